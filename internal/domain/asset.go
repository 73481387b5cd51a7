package domain

// UploadedAsset is a validated, decoded user image. It is never mutated after
// creation; replacing the file creates a new asset.
type UploadedAsset struct {
	Data       []byte
	Filename   string
	PreviewRef string
	Width      int
	Height     int
	Size       int64
	MIME       string
}

// Upload is a raw file as received from the client, before validation.
type Upload struct {
	Filename string
	// DeclaredMIME is the content type the client claimed. The sniffed type wins.
	DeclaredMIME string
	Data         []byte
}
