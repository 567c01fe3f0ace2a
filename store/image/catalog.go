package image

// ImageRecord is one entry in the image catalog, mirroring the JSON shape
// the original wrote by hand with json.dump(..., sort_keys=True).
type ImageRecord struct {
	ImageName   string `json:"ImageName"`
	ImageBase   string `json:"ImageBase"`
	Version     string `json:"Version"`
	CreatedTime string `json:"CreatedTime"`
}

// Catalog is the top-level images.json document.
type Catalog struct {
	Images []ImageRecord `json:"images"`
}
