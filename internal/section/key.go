package section

import (
	"math"
	"time"

	"github.com/matheus3301/talk/internal/model"
)

// Key identifies a section. Keys order sections: a smaller key comes first.
type Key int64

// Undated is the key of items without a time. It sorts after every day.
const Undated Key = math.MaxInt64

const keyLayout = "2006-01-02"

// DayKey returns the key of the calendar day containing ms in loc.
func DayKey(ms uint64, loc *time.Location) Key {
	if loc == nil {
		loc = time.UTC
	}
	t := time.UnixMilli(int64(ms)).In(loc)
	y, m, d := t.Date()
	return Key(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// DateKey returns the key of the calendar day of t in its own location.
func DateKey(t time.Time) Key {
	y, m, d := t.Date()
	return Key(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

// ParseKey parses a 2006-01-02 day, or "undated".
func ParseKey(s string) (Key, error) {
	if s == "undated" {
		return Undated, nil
	}
	t, err := time.Parse(keyLayout, s)
	if err != nil {
		return 0, err
	}
	return DateKey(t), nil
}

// String formats the key as 2006-01-02.
func (k Key) String() string {
	if k == Undated {
		return "undated"
	}
	return time.Unix(int64(k)*86400, 0).UTC().Format(keyLayout)
}

// GroupFunc derives the section key of an item. It must not decrease as the
// item's time increases, so that time order and section order agree.
type GroupFunc[T any] func(T) Key

// ByDay groups items by the calendar day of their time in loc. Items without
// a time go to the Undated section.
func ByDay[T model.Sequenced](loc *time.Location) GroupFunc[T] {
	return func(it T) Key {
		ms, ok := it.SeqTime()
		if !ok {
			return Undated
		}
		return DayKey(ms, loc)
	}
}
