package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudface-ai/cloudface-ai.pro/internal/database"
)

func newTestRepo(t *testing.T) (*Store, *FaceRepository) {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store, NewFaceRepository(store)
}

func testFace(index int, embedding []float32) database.StoredFace {
	return database.StoredFace{
		FaceIndex: index,
		Embedding: embedding,
		BBox:      []float64{10, 20, 110, 140},
		DetScore:  0.92,
		Model:     "buffalo_l",
		Dim:       len(embedding),
	}
}

func TestFaceRepository_SaveFaces_RoundTrip(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	faces := []database.StoredFace{
		testFace(1, []float32{0, 1, 0, 0}),
		testFace(0, []float32{1, 0, 0, 0}),
	}
	if err := repo.SaveFaces(ctx, "user@example.com", "user_photo1", faces); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	got, err := repo.GetFaces(ctx, "user@example.com", "user_photo1")
	if err != nil {
		t.Fatalf("GetFaces failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 faces, got %d", len(got))
	}
	if got[0].FaceIndex != 0 || got[1].FaceIndex != 1 {
		t.Errorf("faces not ordered by face index: %d, %d", got[0].FaceIndex, got[1].FaceIndex)
	}
	for _, f := range got {
		if f.ID == 0 {
			t.Error("expected assigned face ID")
		}
		if f.Owner != "user@example.com" || f.PhotoRef != "user_photo1" {
			t.Errorf("owner/photo not stamped: %q %q", f.Owner, f.PhotoRef)
		}
		if f.CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be set")
		}
	}

	processed, err := repo.IsProcessed(ctx, "user@example.com", "user_photo1")
	if err != nil {
		t.Fatalf("IsProcessed failed: %v", err)
	}
	if !processed {
		t.Error("expected photo to be processed")
	}

	hasFaces, err := repo.HasFaces(ctx, "user@example.com", "user_photo1")
	if err != nil {
		t.Fatalf("HasFaces failed: %v", err)
	}
	if !hasFaces {
		t.Error("expected HasFaces to be true")
	}

	if n, _ := repo.CountFaces(ctx, "user@example.com"); n != 2 {
		t.Errorf("expected 2 faces counted, got %d", n)
	}
	if n, _ := repo.CountPhotos(ctx, "user@example.com"); n != 1 {
		t.Errorf("expected 1 photo counted, got %d", n)
	}
}

func TestFaceRepository_SaveFaces_EmptyMarksProcessed(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveFaces(ctx, "owner1", "owner1_landscape", nil); err != nil {
		t.Fatalf("SaveFaces with no faces failed: %v", err)
	}

	processed, err := repo.IsProcessed(ctx, "owner1", "owner1_landscape")
	if err != nil {
		t.Fatalf("IsProcessed failed: %v", err)
	}
	if !processed {
		t.Error("photo with zero faces should still be processed")
	}

	hasFaces, _ := repo.HasFaces(ctx, "owner1", "owner1_landscape")
	if hasFaces {
		t.Error("expected HasFaces to be false")
	}

	records, err := repo.ListProcessed(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListProcessed failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 processed record, got %d", len(records))
	}
	if records[0].FaceCount != 0 {
		t.Errorf("expected face count 0, got %d", records[0].FaceCount)
	}
}

func TestFaceRepository_SaveFaces_ReplacesExisting(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	first := []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
		testFace(1, []float32{0, 1, 0, 0}),
	}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	second := []database.StoredFace{testFace(0, []float32{0, 0, 1, 0})}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := repo.GetFaces(ctx, "owner1", "owner1_p1")
	if err != nil {
		t.Fatalf("GetFaces failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected replacement to leave 1 face, got %d", len(got))
	}
	if n, _ := repo.CountFaces(ctx, "owner1"); n != 1 {
		t.Errorf("expected face count 1 after replace, got %d", n)
	}
}

func TestStore_PersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := NewFaceRepository(store)

	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p2", nil); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	repo2 := NewFaceRepository(reopened)

	faces, err := repo2.GetFaces(ctx, "owner1", "owner1_p1")
	if err != nil {
		t.Fatalf("GetFaces after reopen failed: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected 1 face after reopen, got %d", len(faces))
	}
	if faces[0].Model != "buffalo_l" || faces[0].Dim != 4 {
		t.Errorf("face fields lost on reload: %+v", faces[0])
	}
	if len(faces[0].BBox) != 4 {
		t.Errorf("bbox lost on reload: %v", faces[0].BBox)
	}

	processed, _ := repo2.IsProcessed(ctx, "owner1", "owner1_p2")
	if !processed {
		t.Error("zero-face processed record lost on reload")
	}
	if n, _ := repo2.CountPhotos(ctx, "owner1"); n != 2 {
		t.Errorf("expected 2 photos after reopen, got %d", n)
	}
}

func TestFaceRepository_DeleteFaces(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.DeleteFaces(ctx, "owner1", "owner1_p1"); err != nil {
		t.Fatalf("DeleteFaces failed: %v", err)
	}

	processed, _ := repo.IsProcessed(ctx, "owner1", "owner1_p1")
	if processed {
		t.Error("deleted photo should no longer be processed")
	}
	faces, _ := repo.GetFaces(ctx, "owner1", "owner1_p1")
	if len(faces) != 0 {
		t.Errorf("expected no faces after delete, got %d", len(faces))
	}
}

func TestFaceRepository_DeleteOwner(t *testing.T) {
	store, repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p2", nil); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.SaveFaces(ctx, "owner2", "owner2_p1", []database.StoredFace{
		testFace(0, []float32{0, 1, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	removed, err := repo.DeleteOwner(ctx, "owner1")
	if err != nil {
		t.Fatalf("DeleteOwner failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("expected 2 photos removed, got %d", removed)
	}

	if _, err := os.Stat(store.ownerPath("owner1")); !os.IsNotExist(err) {
		t.Error("expected owner file to be removed")
	}
	if n, _ := repo.CountPhotos(ctx, "owner1"); n != 0 {
		t.Errorf("expected 0 photos for deleted owner, got %d", n)
	}
	if n, _ := repo.CountPhotos(ctx, "owner2"); n != 1 {
		t.Errorf("other owner affected by delete, got %d photos", n)
	}
}

func TestStore_UnreadableOwnerFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := NewFaceRepository(store)
	ctx := context.Background()

	if err := os.WriteFile(store.ownerPath("owner1"), []byte("not a gob file"), 0600); err != nil {
		t.Fatalf("failed to plant garbage file: %v", err)
	}

	processed, err := repo.IsProcessed(ctx, "owner1", "owner1_p1")
	if err != nil {
		t.Fatalf("IsProcessed on garbage file failed: %v", err)
	}
	if processed {
		t.Error("garbage file should read as empty corpus")
	}

	// The next save replaces the garbage with a valid file.
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	faces, err := NewFaceRepository(reopened).GetFaces(ctx, "owner1", "owner1_p1")
	if err != nil {
		t.Fatalf("GetFaces after recovery failed: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("expected 1 face after recovery, got %d", len(faces))
	}
}

func TestFaceRepository_ListProcessed_OldestFirst(t *testing.T) {
	store, repo := newTestRepo(t)
	ctx := context.Background()

	// Backdate records through the store directly to get distinct times.
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.mu.Lock()
	st, _ := store.loadOwnerLocked("owner1")
	for i, ref := range []string{"owner1_c", "owner1_a", "owner1_b"} {
		st.processed[ref] = database.ProcessedRecord{
			Owner:     "owner1",
			PhotoRef:  ref,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	store.mu.Unlock()

	records, err := repo.ListProcessed(ctx, "owner1")
	if err != nil {
		t.Fatalf("ListProcessed failed: %v", err)
	}
	want := []string{"owner1_c", "owner1_a", "owner1_b"}
	for i, rec := range records {
		if rec.PhotoRef != want[i] {
			t.Errorf("position %d: got %s, want %s", i, rec.PhotoRef, want[i])
		}
	}
}

func TestFaceRepository_FindSimilarWithDistance(t *testing.T) {
	_, repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p2", []database.StoredFace{
		testFace(0, []float32{0.9, 0.1, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p3", []database.StoredFace{
		testFace(0, []float32{0, 1, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	// Same embedding under a different owner must never surface.
	if err := repo.SaveFaces(ctx, "owner2", "owner2_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	query := []float32{1, 0, 0, 0}
	faces, dists, err := repo.FindSimilarWithDistance(ctx, "owner1", query, 0.5, 0)
	if err != nil {
		t.Fatalf("FindSimilarWithDistance failed: %v", err)
	}
	if len(faces) != 2 {
		t.Fatalf("expected 2 matches within distance 0.5, got %d", len(faces))
	}
	if faces[0].PhotoRef != "owner1_p1" {
		t.Errorf("expected exact match first, got %s", faces[0].PhotoRef)
	}
	if faces[1].PhotoRef != "owner1_p2" {
		t.Errorf("expected near match second, got %s", faces[1].PhotoRef)
	}
	if dists[0] > dists[1] {
		t.Errorf("distances not ascending: %v", dists)
	}
	for _, f := range faces {
		if f.Owner != "owner1" {
			t.Errorf("match leaked from owner %s", f.Owner)
		}
	}

	// Limit trims from the tail.
	faces, _, err = repo.FindSimilarWithDistance(ctx, "owner1", query, 0.5, 1)
	if err != nil {
		t.Fatalf("limited search failed: %v", err)
	}
	if len(faces) != 1 || faces[0].PhotoRef != "owner1_p1" {
		t.Errorf("limit 1 should keep closest match, got %+v", faces)
	}

	// Tight threshold excludes the near match too.
	faces, _, err = repo.FindSimilarWithDistance(ctx, "owner1", query, 0.001, 0)
	if err != nil {
		t.Fatalf("tight search failed: %v", err)
	}
	if len(faces) != 1 {
		t.Errorf("expected only the exact match, got %d", len(faces))
	}
}

func TestStore_EnableHNSW_MatchesExactScan(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "faces.hnsw")
	ctx := context.Background()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := NewFaceRepository(store)

	embeddings := [][]float32{
		{1, 0, 0, 0},
		{0.95, 0.05, 0, 0},
		{0.8, 0.2, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
	for i, e := range embeddings {
		ref := "owner1_p" + string(rune('1'+i))
		if err := repo.SaveFaces(ctx, "owner1", ref, []database.StoredFace{testFace(0, e)}); err != nil {
			t.Fatalf("SaveFaces failed: %v", err)
		}
	}

	query := []float32{1, 0, 0, 0}
	exactFaces, exactDists, err := repo.FindSimilarWithDistance(ctx, "owner1", query, 0.5, 0)
	if err != nil {
		t.Fatalf("exact search failed: %v", err)
	}

	if err := store.EnableHNSW(indexPath); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}
	if store.index == nil {
		t.Fatal("expected index to be enabled")
	}

	indexFaces, indexDists, err := repo.FindSimilarWithDistance(ctx, "owner1", query, 0.5, 0)
	if err != nil {
		t.Fatalf("indexed search failed: %v", err)
	}

	if len(indexFaces) != len(exactFaces) {
		t.Fatalf("indexed search found %d faces, exact scan %d", len(indexFaces), len(exactFaces))
	}
	for i := range indexFaces {
		if indexFaces[i].PhotoRef != exactFaces[i].PhotoRef {
			t.Errorf("position %d: indexed %s, exact %s", i, indexFaces[i].PhotoRef, exactFaces[i].PhotoRef)
		}
		if diff := indexDists[i] - exactDists[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("position %d: distance mismatch %v vs %v", i, indexDists[i], exactDists[i])
		}
	}

	if _, err := os.Stat(indexPath); err != nil {
		t.Errorf("expected index file on disk: %v", err)
	}
	if _, err := os.Stat(indexPath + ".meta"); err != nil {
		t.Errorf("expected metadata sidecar on disk: %v", err)
	}
}

func TestStore_EnableHNSW_RebuildsStaleIndex(t *testing.T) {
	dir := t.TempDir()
	indexPath := filepath.Join(t.TempDir(), "faces.hnsw")
	ctx := context.Background()

	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	repo := NewFaceRepository(store)
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p1", []database.StoredFace{
		testFace(0, []float32{1, 0, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}
	if err := store.EnableHNSW(indexPath); err != nil {
		t.Fatalf("EnableHNSW failed: %v", err)
	}

	// Grow the corpus; the on-disk index no longer matches.
	if err := repo.SaveFaces(ctx, "owner1", "owner1_p2", []database.StoredFace{
		testFace(0, []float32{0, 1, 0, 0}),
	}); err != nil {
		t.Fatalf("SaveFaces failed: %v", err)
	}

	reopened, err := NewStore(dir)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	if err := reopened.EnableHNSW(indexPath); err != nil {
		t.Fatalf("EnableHNSW on reopen failed: %v", err)
	}
	if got := reopened.index.Count(); got != 2 {
		t.Errorf("expected rebuilt index with 2 faces, got %d", got)
	}

	faces, _, err := NewFaceRepository(reopened).FindSimilarWithDistance(
		ctx, "owner1", []float32{0, 1, 0, 0}, 0.1, 0)
	if err != nil {
		t.Fatalf("search after rebuild failed: %v", err)
	}
	if len(faces) != 1 || faces[0].PhotoRef != "owner1_p2" {
		t.Errorf("rebuilt index missing new face, got %+v", faces)
	}
}

func TestSanitizeOwner(t *testing.T) {
	tests := []struct {
		owner string
		want  string
	}{
		{"user@example.com", "user_example.com"},
		{"plain", "plain"},
		{"110745628391234", "110745628391234"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"user name", "user_name"},
	}
	for _, tc := range tests {
		t.Run(tc.owner, func(t *testing.T) {
			if got := sanitizeOwner(tc.owner); got != tc.want {
				t.Errorf("sanitizeOwner(%q) = %q, want %q", tc.owner, got, tc.want)
			}
		})
	}
}
