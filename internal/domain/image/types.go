package image

// Encoded is a reduced image payload ready for the description service.
// Bytes is always below (best effort, see Reducer) the 5 MiB payload ceiling.
type Encoded struct {
	Bytes  []byte
	Format string
	Width  int
	Height int
}

// ValidationResult captures the outcome of upload validation.
type ValidationResult struct {
	IsValid  bool
	Format   string
	Width    int
	Height   int
	FileSize int64
	Error    error
	Risk     string
}
