package pager

import "fmt"

// This file backs the page inspection tooling (cmd/pagestat): plain
// accessors that read blocks through a caller-supplied FileManager and
// describe what is on each page without going through the buffer pool's
// pin/unpin bookkeeping. They never write page contents, but FileManager
// opens files with O_CREATE, so inspecting a missing file leaves an
// empty one behind.

// FileKind tells Inspect which dialect to interpret a file's blocks as:
// a heap file of slotted pages, or a B-tree file of btree pages.
type FileKind uint8

const (
	FileKindHeap FileKind = iota
	FileKindBTree
)

// SlottedPageInfo summarizes one slotted (heap) page.
type SlottedPageInfo struct {
	Block     int64
	Type      PageType
	CRCValid  bool
	SlotCount int
	FreeLower uint16
	FreeUpper uint16
	FreeBytes int
	Live      int
	Dead      int
	Redirect  int
	Free      int
}

// InspectSlottedPage reads a heap page's block-level stats out of buf
// (exactly one block's worth of bytes).
func InspectSlottedPage(block int64, buf []byte) SlottedPageInfo {
	sp := WrapSlottedPage(buf)
	info := SlottedPageInfo{
		Block:     block,
		Type:      PageType(buf[offType]),
		CRCValid:  sp.VerifyCRC() == nil,
		SlotCount: sp.SlotCount(),
		FreeLower: sp.FreeLower(),
		FreeUpper: sp.FreeUpper(),
		FreeBytes: int(sp.FreeUpper()) - int(sp.FreeLower()),
	}
	sp.Iterate(func(_ int, lp LinePtr) bool {
		switch lp.State {
		case LineLive:
			info.Live++
		case LineDead:
			info.Dead++
		case LineRedirect:
			info.Redirect++
		case LineFree:
			info.Free++
		}
		return true
	})
	return info
}

// BTreePageInfo summarizes one B-tree page.
type BTreePageInfo struct {
	Block        int64
	IsLeaf       bool
	HasOverflow  bool
	OverflowLink int64
	RecordCount  int
}

// InspectBTreePage reads a B-tree page's block-level stats out of buf.
func InspectBTreePage(block int64, buf []byte, layout Layout) BTreePageInfo {
	bp := WrapBTreePage(buf, layout)
	info := BTreePageInfo{
		Block:       block,
		IsLeaf:      bp.IsLeaf(),
		HasOverflow: bp.HasOverflow(),
		RecordCount: int(bp.RecordCount()),
	}
	if info.HasOverflow {
		info.OverflowLink = bp.OverflowBlock()
	}
	return info
}

// FileReport is the full per-block inspection of one file.
type FileReport struct {
	Filename string
	Kind     FileKind
	Blocks   int64
	Heap     []SlottedPageInfo
	BTree    []BTreePageInfo
}

// InspectFile walks every block of filename (via fm, bypassing the buffer
// pool) and reports on it according to kind. For FileKindBTree, block 0 is
// skipped since it holds Tree metadata rather than a formatted page.
func InspectFile(fm *FileManager, filename string, kind FileKind, layout Layout) (FileReport, error) {
	length, err := fm.Length(filename)
	if err != nil {
		return FileReport{}, fmt.Errorf("inspect %s: %w", filename, err)
	}
	blockSize := fm.BlockSize()
	numBlocks := length
	report := FileReport{Filename: filename, Kind: kind, Blocks: numBlocks}

	buf := make([]byte, blockSize)
	for i := int64(0); i < numBlocks; i++ {
		if kind == FileKindBTree && i == 0 {
			continue
		}
		id := BlockId{Filename: filename, BlockNum: i}
		if err := fm.Read(id, buf); err != nil {
			return report, fmt.Errorf("inspect %s: read block %d: %w", filename, i, err)
		}
		switch kind {
		case FileKindHeap:
			report.Heap = append(report.Heap, InspectSlottedPage(i, buf))
		case FileKindBTree:
			report.BTree = append(report.BTree, InspectBTreePage(i, buf, layout))
		}
	}
	return report, nil
}

// String renders a FileReport as a human-readable multi-line summary,
// the format cmd/pagestat prints directly.
func (r FileReport) String() string {
	out := fmt.Sprintf("%s: %d block(s)\n", r.Filename, r.Blocks)
	for _, p := range r.Heap {
		out += fmt.Sprintf("  block %-4d type=%-4s crc=%-5v slots=%-4d free=%d (live=%d dead=%d redirect=%d free=%d)\n",
			p.Block, p.Type, p.CRCValid, p.SlotCount, p.FreeBytes, p.Live, p.Dead, p.Redirect, p.Free)
	}
	for _, p := range r.BTree {
		kind := "internal"
		if p.IsLeaf {
			kind = "leaf"
		}
		overflow := ""
		if p.HasOverflow {
			overflow = fmt.Sprintf(" overflow->%d", p.OverflowLink)
		}
		out += fmt.Sprintf("  block %-4d %-8s records=%-4d%s\n", p.Block, kind, p.RecordCount, overflow)
	}
	return out
}
