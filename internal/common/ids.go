// Package common holds the identifier and constant types shared across the
// buffer pool, the B+ tree index, and the lock manager.
package common

import (
	"bytes"
	"encoding/binary"
)

// PageSize is the fixed on-disk and in-frame size of a page, in bytes.
const PageSize = 4096

// InvalidPageID marks the absence of a page, mirroring a null pointer.
const InvalidPageID PageID = ^PageID(0)

// PageID identifies a page within a single file.
type PageID uint64

// FrameID identifies a frame slot inside the buffer pool's fixed-size pool.
type FrameID uint64

// TxnID identifies a transaction. Ascending values model wound-wait / cycle
// tie-break ordering: a smaller TxnID is an older transaction.
type TxnID uint64

// FileID identifies a file (an index, a catalog, a heap) that pages belong
// to.
type FileID uint64

// PageIdentity uniquely identifies a page across every file the engine
// manages: the buffer pool's page table keys frames by this pair.
type PageIdentity struct {
	FileID FileID
	PageID PageID
}

func (p PageIdentity) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, uint64(p.FileID))
	_ = binary.Write(buf, binary.BigEndian, uint64(p.PageID))

	return buf.Bytes(), nil
}

func (p *PageIdentity) UnmarshalBinary(data []byte) error {
	rd := bytes.NewReader(data)

	var fileID, pageID uint64
	if err := binary.Read(rd, binary.BigEndian, &fileID); err != nil {
		return err
	}

	if err := binary.Read(rd, binary.BigEndian, &pageID); err != nil {
		return err
	}

	p.FileID = FileID(fileID)
	p.PageID = PageID(pageID)

	return nil
}

// RecordID locates a single tuple/entry: the page it lives on plus a slot
// index within that page.
type RecordID struct {
	FileID  FileID
	PageID  PageID
	SlotNum uint16
}

func (r RecordID) PageIdentity() PageIdentity {
	return PageIdentity{FileID: r.FileID, PageID: r.PageID}
}
