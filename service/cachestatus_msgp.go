// MessagePack encoding for CacheStatus, in the style of aistore's
// msgp-generated accessors (tinylib/msgp runtime, hand-written here rather
// than `go generate`'d since CacheStatus has exactly one consumer: the
// periodic diagnostics log in cmd/habsimd).
/*
 * Copyright (c) 2026, habsim core contributors. All rights reserved.
 */
package service

import "github.com/tinylib/msgp/msgp"

var _ msgp.Marshaler = (*CacheStatus)(nil)
var _ msgp.Unmarshaler = (*CacheStatus)(nil)

// MarshalMsg implements msgp.Marshaler.
func (z *CacheStatus) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendMapHeader(b, 2)
	o = msgp.AppendString(o, "simulators_cached")
	o = msgp.AppendInt(o, z.SimulatorsCached)
	o = msgp.AppendString(o, "predictions_cached")
	o = msgp.AppendInt(o, z.PredictionsCached)
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (z *CacheStatus) UnmarshalMsg(bts []byte) ([]byte, error) {
	n, bts, err := msgp.ReadMapHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	for i := uint32(0); i < n; i++ {
		var field string
		field, bts, err = msgp.ReadStringBytes(bts)
		if err != nil {
			return bts, err
		}
		switch field {
		case "simulators_cached":
			z.SimulatorsCached, bts, err = msgp.ReadIntBytes(bts)
		case "predictions_cached":
			z.PredictionsCached, bts, err = msgp.ReadIntBytes(bts)
		default:
			bts, err = msgp.Skip(bts)
		}
		if err != nil {
			return bts, err
		}
	}
	return bts, nil
}

// Encode packs the snapshot for the diagnostics log / status endpoint an
// external collaborator may expose over HTTP.
func (z CacheStatus) Encode() ([]byte, error) {
	return z.MarshalMsg(nil)
}
