package commandpath

var (
	PathLike      = Path{"btn", "bsky", "like"}
	PathRepost    = Path{"btn", "bsky", "repost"}
	PathTranslate = Path{"btn", "trans", "deepl"}
)

// Default returns the grammar of the controls rendered on relay cards.
func Default() *Grammar {
	return New(
		Node("btn",
			Node("bsky",
				Node("like"),
				Node("repost"),
			),
			Node("trans",
				Node("deepl"),
			),
		),
	)
}
