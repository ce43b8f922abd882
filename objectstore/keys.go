package objectstore

import "fmt"

// Key layout conventions from spec.md §4.1 / §6: block numbers are
// zero-padded to 10 digits so lexicographic and numeric order match.

// BlockKey returns the key for a single-block blob.
func BlockKey(number uint64, hexHash string) string {
	return fmt.Sprintf("block/%010d/%s", number, hexHash)
}

// ChainEntryKey returns the key for a canonical chain log entry.
func ChainEntryKey(number uint64) string {
	return fmt.Sprintf("chain/%010d", number)
}

// SegmentFragmentKey returns the key for one fragment kind's blob
// within a segment starting at firstBlock.
func SegmentFragmentKey(firstBlock uint64, fragmentName string) string {
	return fmt.Sprintf("segment/%010d/%s", firstBlock, fragmentName)
}

// GroupKey returns the key for a segment group blob starting at
// firstBlock.
func GroupKey(firstBlock uint64) string {
	return fmt.Sprintf("group/%010d", firstBlock)
}

// BlockKeyPrefix returns the prefix under which a single block number's
// blob(s) live, used to list/delete by number without knowing the hash.
func BlockKeyPrefix(number uint64) string {
	return fmt.Sprintf("block/%010d/", number)
}
