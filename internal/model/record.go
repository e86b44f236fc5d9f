package model

import (
	"math"
	"time"
)

const (
	KeyTimestamp = "timestamp"
	KeyHostname  = "hostname"
)

// Record is one merged sample: metric name to value plus timestamp and hostname.
// Numbers are float64, per-core series are []float64.
type Record map[string]any

func NewRecord(at time.Time, hostname string) Record {
	return Record{
		KeyTimestamp: UnixSeconds(at),
		KeyHostname:  hostname,
	}
}

// UnixSeconds converts t to fractional seconds since epoch.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds is the inverse of UnixSeconds.
func FromUnixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

func (r Record) Timestamp() time.Time {
	v, ok := r.Float(KeyTimestamp)
	if !ok {
		return time.Time{}
	}
	return FromUnixSeconds(v)
}

func (r Record) Hostname() string {
	s, _ := r[KeyHostname].(string)
	return s
}

// Float returns the value under key as float64 when it holds any numeric kind.
func (r Record) Float(key string) (float64, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	return ToFloat(v)
}

func (r Record) Floats(key string) ([]float64, bool) {
	switch v := r[key].(type) {
	case []float64:
		return v, true
	case []any:
		out := make([]float64, 0, len(v))
		for _, item := range v {
			f, ok := ToFloat(item)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if s, ok := v.([]float64); ok {
			v = append([]float64(nil), s...)
		}
		out[k] = v
	}
	return out
}

// IsReserved reports whether key is owned by the scheduler rather than a collector.
func IsReserved(key string) bool {
	return key == KeyTimestamp || key == KeyHostname
}

func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
