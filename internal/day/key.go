package day

// Key is the composite (user, date) address of a journal document. It is
// comparable and usable as a map key.
type Key struct {
	UserID string
	Date   Date
}

// NewKey creates a Key.
func NewKey(userID string, d Date) Key {
	return Key{UserID: userID, Date: d}
}

// String returns "user/date" for logging.
func (k Key) String() string {
	return k.UserID + "/" + k.Date.String()
}

// IsZero reports whether both components are empty.
func (k Key) IsZero() bool {
	return k.UserID == "" && k.Date.IsZero()
}
