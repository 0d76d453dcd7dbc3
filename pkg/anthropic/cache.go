package anthropic

// CachedSystem returns a single system block marked for prompt caching. The
// extraction instructions are identical for every file in a batch, so later
// files read them from the cache.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{}}}
}
