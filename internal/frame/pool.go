package frame

import "sync"

// dataPool recycles Data frames the way the teacher's frame.Pool recycles
// its own hot StreamData/Acknowledgement types: Data is the one frame kind
// this core decodes on every inbound data packet, so it is the only kind
// worth pooling here.
var dataPool = sync.Pool{
	New: func() any { return &Data{} },
}

// GetData returns a Data frame from the pool, used by New in place of a
// fresh allocation for protocol.PayloadData.
func GetData() *Data {
	return dataPool.Get().(*Data)
}

// PutData resets d and returns it to the pool. Callers must not retain d
// or anything pointing into d.Payload/d.Salt after this call.
func PutData(d *Data) {
	d.Reset()
	dataPool.Put(d)
}
