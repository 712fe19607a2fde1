package reporter

import "github.com/dustin/go-humanize"

// formatSize renders slot 4: the file size, with the estimated
// compressed size alongside when one is known.
func formatSize(sizeBytes, estimatedCompressedBytes int64) string {
	if estimatedCompressedBytes <= 0 || estimatedCompressedBytes >= sizeBytes {
		return humanize.Bytes(uint64(sizeBytes))
	}
	return humanize.Bytes(uint64(sizeBytes)) + " (→ " + humanize.Bytes(uint64(estimatedCompressedBytes)) + " est.)"
}
