// Package index provides the embedding index for triaged.
//
// The index owns Chunk storage. Chunks carry a fixed-dimensionality
// embedding vector and structured metadata, and are queried by cosine
// similarity combined with metadata filtering. Query results are fully
// deterministic: for a fixed index state, identical queries return
// byte-identical results. This property underlies audit replay.
package index
