package pager

import "testing"

// TestInspectFileReportsBlockCountDirectly guards against double-dividing
// FileManager.Length's already-in-blocks result by BlockSize again, which
// would round a small file's block count down to 0.
func TestInspectFileReportsBlockCountDirectly(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(dir, BlockSize4K, false)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	buf := make([]byte, BlockSize4K)
	sp := InitSlottedPage(buf)
	sp.SetCRC()
	for i := 0; i < 2; i++ {
		id, err := fm.Append("heap.dat")
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := fm.Write(id, buf); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	report, err := InspectFile(fm, "heap.dat", FileKindHeap, IntLayout())
	if err != nil {
		t.Fatalf("InspectFile: %v", err)
	}
	if report.Blocks != 2 {
		t.Fatalf("expected a 2-block file to report 2 blocks, got %d", report.Blocks)
	}
	if len(report.Heap) != 2 {
		t.Fatalf("expected 2 heap page reports, got %d", len(report.Heap))
	}
}

func TestInspectFileHeapPage(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(dir, BlockSize4K, false)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	buf := make([]byte, BlockSize4K)
	sp := InitSlottedPage(buf)
	if _, err := sp.AllocateTuple([]byte("row")); err != nil {
		t.Fatalf("AllocateTuple: %v", err)
	}
	sp.SetCRC()
	id, err := fm.Append("heap.dat")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := fm.Write(id, buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	report, err := InspectFile(fm, "heap.dat", FileKindHeap, IntLayout())
	if err != nil {
		t.Fatalf("InspectFile: %v", err)
	}
	if len(report.Heap) != 1 {
		t.Fatalf("expected 1 heap page report, got %d", len(report.Heap))
	}
	if report.Heap[0].Live != 1 {
		t.Fatalf("expected 1 live tuple, got %d", report.Heap[0].Live)
	}
	if !report.Heap[0].CRCValid {
		t.Fatalf("expected a freshly written page to have a valid CRC")
	}
}

// TestInspectFileSkipsBTreeMetadataBlock checks that block 0 (the Tree's
// metadata header, not a formatted page) is excluded from the per-page
// B-tree report.
func TestInspectFileSkipsBTreeMetadataBlock(t *testing.T) {
	dir := t.TempDir()
	fm, err := NewFileManager(dir, BlockSize4K, false)
	if err != nil {
		t.Fatalf("NewFileManager: %v", err)
	}
	defer fm.Close()

	meta, err := fm.Append("index.dat")
	if err != nil {
		t.Fatalf("Append meta: %v", err)
	}
	if meta.BlockNum != 0 {
		t.Fatalf("expected the metadata block to be block 0, got %d", meta.BlockNum)
	}
	if err := fm.Write(meta, make([]byte, BlockSize4K)); err != nil {
		t.Fatalf("Write meta: %v", err)
	}

	rootBuf := make([]byte, BlockSize4K)
	InitBTreeLeaf(rootBuf, IntLayout())
	root, err := fm.Append("index.dat")
	if err != nil {
		t.Fatalf("Append root: %v", err)
	}
	if err := fm.Write(root, rootBuf); err != nil {
		t.Fatalf("Write root: %v", err)
	}

	report, err := InspectFile(fm, "index.dat", FileKindBTree, IntLayout())
	if err != nil {
		t.Fatalf("InspectFile: %v", err)
	}
	if report.Blocks != 2 {
		t.Fatalf("expected 2 blocks total, got %d", report.Blocks)
	}
	if len(report.BTree) != 1 {
		t.Fatalf("expected the metadata block to be skipped, leaving 1 B-tree page report, got %d", len(report.BTree))
	}
	if !report.BTree[0].IsLeaf {
		t.Fatalf("expected the root block to report as a leaf")
	}
}
