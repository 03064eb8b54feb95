package cluster

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/cmn/jsp"
)

// EncodeMetakey composes a GroupMeta into the length-prefixed,
// checksummed blob spec §6 describes as "msgpack-compatible": the
// document itself is built with tinylib/msgp's runtime append primitives
// (not a generated marshaler, since GroupMeta's shape varies by variant),
// then wrapped in cmn/jsp's envelope before being handed to a
// StorageSession.
func EncodeMetakey(meta *GroupMeta) []byte {
	return jsp.Encode(appendGroupMeta(nil, meta))
}

func appendGroupMeta(b []byte, m *GroupMeta) []byte {
	fields := 3 // version, namespace, frozen always present
	if m.Type != "" {
		fields++
	}
	if m.Couple != nil {
		fields++
	}
	if m.Service != nil {
		fields++
	}
	if m.LRC != nil {
		fields++
	}
	if m.LRCGroups != nil {
		fields++
	}

	b = msgp.AppendMapHeader(b, uint32(fields))

	b = msgp.AppendString(b, "version")
	b = msgp.AppendInt64(b, int64(m.Version))

	b = msgp.AppendString(b, "namespace")
	b = msgp.AppendString(b, m.Namespace)

	b = msgp.AppendString(b, "frozen")
	b = msgp.AppendBool(b, m.Frozen)

	if m.Type != "" {
		b = msgp.AppendString(b, "type")
		b = msgp.AppendString(b, m.Type)
	}
	if m.Couple != nil {
		b = msgp.AppendString(b, "couple")
		b = appendInt64Array(b, m.Couple)
	}
	if m.Service != nil {
		b = msgp.AppendString(b, "service")
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "status")
		b = msgp.AppendString(b, m.Service.Status)
		b = msgp.AppendString(b, "job_id")
		b = msgp.AppendString(b, m.Service.JobID)
	}
	if m.LRC != nil {
		b = msgp.AppendString(b, "lrc")
		b = msgp.AppendMapHeader(b, 3)
		b = msgp.AppendString(b, "groups")
		b = appendInt64Array(b, m.LRC.Groups)
		b = msgp.AppendString(b, "part_size")
		b = msgp.AppendInt64(b, m.LRC.PartSize)
		b = msgp.AppendString(b, "scheme")
		b = msgp.AppendString(b, m.LRC.Scheme)
	}
	if m.LRCGroups != nil {
		b = msgp.AppendString(b, "lrc_groups")
		b = appendInt64Array(b, m.LRCGroups)
	}
	return b
}

func appendInt64Array(b []byte, vals []int64) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(vals)))
	for _, v := range vals {
		b = msgp.AppendInt64(b, v)
	}
	return b
}

// ParseMetakey parses a raw storage-session metakey value into a
// GroupMeta, implementing spec §4.C/§6's two wire shapes: a legacy bare
// array of group ids is lifted to {version:1, couple: ..., namespace:
// "default", frozen: false}; a map document (however it reached storage,
// with or without this package's own jsp envelope) is read as version 2.
// An empty value (the "-2 means empty" sentinel the builder checks
// against) is represented by the caller as a zero-length slice and
// returns (nil, nil) here.
func ParseMetakey(raw []byte) (*GroupMeta, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	payload, _, err := jsp.Decode(raw)
	if err != nil {
		return nil, cmn.NewValidationError("metakey envelope: %v", err)
	}

	if sz, rest, aerr := msgp.ReadArrayHeaderBytes(payload); aerr == nil {
		couple, err := readInt64Array(rest, sz)
		if err != nil {
			return nil, cmn.NewValidationError("legacy metakey tuple: %v", err)
		}
		return &GroupMeta{
			Version:   cmn.MetaVersionLegacy,
			Namespace: cmn.DefaultNamespace,
			Couple:    sortedInt64(couple),
		}, nil
	}

	sz, rest, err := msgp.ReadMapHeaderBytes(payload)
	if err != nil {
		return nil, cmn.NewValidationError("metakey payload is neither a legacy tuple nor a document: %v", err)
	}

	meta := &GroupMeta{}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, rest, err = msgp.ReadStringBytes(rest)
		if err != nil {
			return nil, cmn.NewValidationError("metakey key: %v", err)
		}
		rest, err = readMetaField(meta, key, rest)
		if err != nil {
			return nil, cmn.NewValidationError("metakey field %q: %v", key, err)
		}
	}
	return meta, nil
}

func readMetaField(meta *GroupMeta, key string, rest []byte) ([]byte, error) {
	var err error
	switch key {
	case "version":
		var v int64
		v, rest, err = msgp.ReadInt64Bytes(rest)
		meta.Version = int(v)
	case "type":
		meta.Type, rest, err = msgp.ReadStringBytes(rest)
	case "namespace":
		meta.Namespace, rest, err = msgp.ReadStringBytes(rest)
	case "frozen":
		meta.Frozen, rest, err = msgp.ReadBoolBytes(rest)
	case "couple":
		var sz uint32
		sz, rest, err = msgp.ReadArrayHeaderBytes(rest)
		if err != nil {
			return rest, err
		}
		var couple []int64
		couple, rest, err = readInt64ArrayRest(rest, sz)
		meta.Couple = couple
	case "lrc_groups":
		var sz uint32
		sz, rest, err = msgp.ReadArrayHeaderBytes(rest)
		if err != nil {
			return rest, err
		}
		var groups []int64
		groups, rest, err = readInt64ArrayRest(rest, sz)
		meta.LRCGroups = groups
	case "service":
		var sz uint32
		sz, rest, err = msgp.ReadMapHeaderBytes(rest)
		if err != nil {
			return rest, err
		}
		svc := &ServiceInfo{}
		for i := uint32(0); i < sz; i++ {
			var k string
			k, rest, err = msgp.ReadStringBytes(rest)
			if err != nil {
				return rest, err
			}
			switch k {
			case "status":
				svc.Status, rest, err = msgp.ReadStringBytes(rest)
			case "job_id":
				svc.JobID, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
			if err != nil {
				return rest, err
			}
		}
		meta.Service = svc
	case "lrc":
		var sz uint32
		sz, rest, err = msgp.ReadMapHeaderBytes(rest)
		if err != nil {
			return rest, err
		}
		lrc := &LRCInfo{}
		for i := uint32(0); i < sz; i++ {
			var k string
			k, rest, err = msgp.ReadStringBytes(rest)
			if err != nil {
				return rest, err
			}
			switch k {
			case "groups":
				var gsz uint32
				gsz, rest, err = msgp.ReadArrayHeaderBytes(rest)
				if err != nil {
					return rest, err
				}
				lrc.Groups, rest, err = readInt64ArrayRest(rest, gsz)
			case "part_size":
				lrc.PartSize, rest, err = msgp.ReadInt64Bytes(rest)
			case "scheme":
				lrc.Scheme, rest, err = msgp.ReadStringBytes(rest)
			default:
				rest, err = msgp.Skip(rest)
			}
			if err != nil {
				return rest, err
			}
		}
		meta.LRC = lrc
	default:
		rest, err = msgp.Skip(rest)
	}
	return rest, err
}

func readInt64Array(rest []byte, sz uint32) ([]int64, error) {
	out, rest, err := readInt64ArrayRest(rest, sz)
	_ = rest
	return out, err
}

func readInt64ArrayRest(rest []byte, sz uint32) ([]int64, []byte, error) {
	out := make([]int64, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var v int64
		var err error
		v, rest, err = msgp.ReadInt64Bytes(rest)
		if err != nil {
			return nil, rest, err
		}
		out = append(out, v)
	}
	return out, rest, nil
}
