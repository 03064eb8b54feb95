package metadata

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

type coupleRecordWire struct {
	GroupIDs  []int64 `json:"group_ids"`
	Namespace string  `json:"namespace"`
	BuildID   string  `json:"build_id"`
}

func encodeCoupleRecord(rec CoupleRecord) string {
	b, _ := jsonAPI.Marshal(coupleRecordWire{GroupIDs: rec.GroupIDs, Namespace: rec.Namespace, BuildID: rec.BuildID})
	return string(b)
}

func decodeCoupleRecord(id, blob string) CoupleRecord {
	var w coupleRecordWire
	_ = jsonAPI.Unmarshal([]byte(blob), &w)
	return CoupleRecord{ID: id, GroupIDs: w.GroupIDs, Namespace: w.Namespace, BuildID: w.BuildID}
}

type cacheIndexEntryWire struct {
	DataGroups  []int64 `json:"data_groups"`
	CacheGroups []int64 `json:"cache_groups"`
}

func encodeCacheIndexEntry(e CacheIndexEntry) string {
	b, _ := jsonAPI.Marshal(cacheIndexEntryWire{DataGroups: e.DataGroups, CacheGroups: e.CacheGroups})
	return string(b)
}

func decodeCacheIndexEntry(blob string) CacheIndexEntry {
	var w cacheIndexEntryWire
	_ = jsonAPI.Unmarshal([]byte(blob), &w)
	return CacheIndexEntry{DataGroups: w.DataGroups, CacheGroups: w.CacheGroups}
}
