package main

/*
#include <stdlib.h>
*/
import "C"

// =====================================================
// Record Operations
// =====================================================

//export RecordCreate
// RecordCreate stores a new record. Returns the record JSON, to be freed by
// the caller.
func RecordCreate(collection, payload *C.char) *C.char {
	return result(core.RecordCreate(background(), C.GoString(collection), C.GoString(payload)))
}

//export RecordUpdate
// RecordUpdate applies a JSON patch. Returns the record JSON.
func RecordUpdate(collection, id, patch *C.char) *C.char {
	return result(core.RecordUpdate(background(), C.GoString(collection), C.GoString(id), C.GoString(patch)))
}

//export RecordDelete
// RecordDelete tombstones a record.
// Returns 0 on success, non-zero on error.
func RecordDelete(collection, id *C.char) int32 {
	return status(core.RecordDelete(background(), C.GoString(collection), C.GoString(id)))
}

//export RecordGet
func RecordGet(collection, id *C.char) *C.char {
	return result(core.RecordGet(background(), C.GoString(collection), C.GoString(id)))
}

//export RecordList
// RecordList returns a JSON array. filter may be empty or a JSON object with
// where, status, include_deleted and limit.
func RecordList(collection, filter *C.char) *C.char {
	return result(core.RecordList(background(), C.GoString(collection), C.GoString(filter)))
}

// =====================================================
// Sync Operations
// =====================================================

//export SyncRefresh
// SyncRefresh requests a sync cycle without waiting.
func SyncRefresh() int32 {
	return status(core.Refresh())
}

//export SyncReset
// SyncReset cancels the running cycle, e.g. when the host is suspended.
func SyncReset() int32 {
	return status(core.Reset())
}

//export SyncNow
// SyncNow blocks until a cycle finishes and returns its result JSON.
func SyncNow() *C.char {
	return result(core.SyncNow(background()))
}

//export SyncStatus
func SyncStatus() *C.char {
	return result(core.Status())
}

//export SetOnline
func SetOnline(online int32) int32 {
	return status(core.SetOnline(online != 0))
}

//export SetForeground
func SetForeground(foreground int32) int32 {
	return status(core.SetForeground(foreground != 0))
}

//export ConflictList
func ConflictList(limit int32) *C.char {
	return result(core.Conflicts(background(), int(limit)))
}

// =====================================================
// Asset Operations
// =====================================================

//export AssetAdd
// AssetAdd queues a file. descriptor is JSON with local_path, content_type,
// owner_collection, owner_id and owner_field.
func AssetAdd(descriptor *C.char) *C.char {
	return result(core.AssetAdd(background(), C.GoString(descriptor)))
}

//export AssetRetry
func AssetRetry(id *C.char) int32 {
	return status(core.AssetRetry(background(), C.GoString(id)))
}

//export AssetRemove
func AssetRemove(id *C.char) int32 {
	return status(core.AssetRemove(background(), C.GoString(id)))
}

//export AssetList
func AssetList() *C.char {
	return result(core.AssetList())
}
