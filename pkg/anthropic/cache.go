package anthropic

// BuildCachedSystemBlocks constructs a system block with a cache breakpoint.
// Extraction prompts repeat the same instructions for every tender.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
