package drive

import "testing"

func TestFilterImages(t *testing.T) {
	files := []File{
		{ID: "1", Name: "party.jpg"},
		{ID: "2", Name: "PANO.JPEG"},
		{ID: "3", Name: "scan.png", MimeType: "image/png"},
		{ID: "4", Name: "notes.txt", MimeType: "text/plain"},
		{ID: "5", Name: "clip.mp4", MimeType: "video/mp4"},
		{ID: "6", Name: "upload-no-extension", MimeType: "image/webp"},
		{ID: "7", Name: "._party.jpg"},
		{ID: "8", Name: "slides.pdf", MimeType: "application/pdf"},
	}

	images := FilterImages(files)

	want := []string{"1", "2", "3", "6"}
	if len(images) != len(want) {
		t.Fatalf("expected %d images, got %d", len(want), len(images))
	}
	for i, f := range images {
		if f.ID != want[i] {
			t.Errorf("image %d: expected ID %s, got %s", i, want[i], f.ID)
		}
	}
}

func TestFilterImages_Empty(t *testing.T) {
	if got := FilterImages(nil); len(got) != 0 {
		t.Errorf("expected no images from empty input, got %d", len(got))
	}
}
