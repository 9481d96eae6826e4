//go:build !unix

package filemap

func descriptorLimit() int {
	return 0
}
