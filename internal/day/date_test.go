package day

import (
	"database/sql/driver"
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain ISO date", raw: "2024-05-01", want: "2024-05-01"},
		{name: "surrounding whitespace trimmed", raw: "  2024-05-01\n", want: "2024-05-01"},
		{name: "leap day", raw: "2024-02-29", want: "2024-02-29"},
		{name: "empty", raw: "", wantErr: true},
		{name: "not a leap year", raw: "2023-02-29", wantErr: true},
		{name: "timestamp rejected", raw: "2024-05-01T10:00:00Z", wantErr: true},
		{name: "unpadded month rejected", raw: "2024-5-01", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, got.IsZero())

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFromTime_UsesLocation(t *testing.T) {
	t.Parallel()

	tz := time.FixedZone("UTC+10", 10*60*60)
	ts := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-01", FromTime(ts).String())
	assert.Equal(t, "2024-05-02", FromTime(ts.In(tz)).String())
	assert.True(t, FromTime(time.Time{}).IsZero())
}

func TestToday_LocalCalendarDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, FromTime(now.Local()), Today(now))
	assert.False(t, Today(time.Now()).IsZero())
}

func TestCompare_Chronological(t *testing.T) {
	t.Parallel()

	dates := []Date{
		MustParse("2024-12-31"),
		MustParse("2024-01-02"),
		MustParse("2023-06-15"),
		MustParse("2024-01-10"),
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	got := make([]string, len(dates))
	for i, d := range dates {
		got[i] = d.String()
	}

	assert.Equal(t, []string{"2023-06-15", "2024-01-02", "2024-01-10", "2024-12-31"}, got)
	assert.Equal(t, 0, MustParse("2024-01-02").Compare(MustParse("2024-01-02")))
}

func TestAddDays(t *testing.T) {
	t.Parallel()

	d := MustParse("2024-02-28")
	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, "2024-02-27", d.AddDays(-1).String())
	assert.True(t, Date{}.AddDays(3).IsZero())
}

func TestDate_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Date Date `json:"date"`
	}

	data, err := json.Marshal(wrapper{Date: MustParse("2024-05-01")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2024-05-01"}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, MustParse("2024-05-01"), back.Date)

	assert.Error(t, json.Unmarshal([]byte(`{"date":"yesterday"}`), &back))
}

func TestDate_Scan(t *testing.T) {
	t.Parallel()

	var d Date

	require.NoError(t, d.Scan("2024-05-01"))
	assert.Equal(t, "2024-05-01", d.String())

	require.NoError(t, d.Scan([]byte("2024-05-02")))
	assert.Equal(t, "2024-05-02", d.String())

	require.NoError(t, d.Scan(time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2024-05-03", d.String())

	require.NoError(t, d.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, d.Scan(42))
}

func TestDate_Value(t *testing.T) {
	t.Parallel()

	v, err := Date{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = MustParse("2024-05-01").Value()
	require.NoError(t, err)
	assert.Equal(t, driver.Value("2024-05-01"), v)
}

func TestKey(t *testing.T) {
	t.Parallel()

	k := NewKey("u1", MustParse("2024-05-01"))
	assert.Equal(t, "u1/2024-05-01", k.String())
	assert.False(t, k.IsZero())
	assert.True(t, Key{}.IsZero())

	m := map[Key]int{k: 1}
	assert.Equal(t, 1, m[NewKey("u1", MustParse("2024-05-01"))])
}
