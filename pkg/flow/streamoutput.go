package flow

import (
	"strings"

	"github.com/tombee/promptflow/pkg/tools"
)

// LazyOutput is a node's output when a StreamingTool ran and the caller
// opted into streaming results (allowGeneratorOutput). It replays the
// tool's already-collected chunks on demand instead of handing back a
// single materialized value -- the Go analogue of original_source's
// GeneratorProxy, which tees a generator's yielded values to a consumer
// while caching them for replay. Output composition (${node.output...})
// calls Materialize, so only a caller that holds the LineResult
// directly (rather than referencing the node from a downstream
// expression) observes the stream itself.
type LazyOutput struct {
	chunks []tools.ToolChunk
}

// NewLazyOutput wraps an already-collected sequence of chunks.
func NewLazyOutput(chunks []tools.ToolChunk) *LazyOutput {
	return &LazyOutput{chunks: chunks}
}

// Stream returns a fresh, fully buffered channel replaying every chunk
// in order. Buffered rather than live because the Node Scheduler has
// already run the tool to completion by the time a LazyOutput exists --
// there is no in-flight producer left to tee from.
func (lo *LazyOutput) Stream() <-chan tools.ToolChunk {
	out := make(chan tools.ToolChunk, len(lo.chunks))
	for _, c := range lo.chunks {
		out <- c
	}
	close(out)
	return out
}

// Materialize collapses the streamed chunks into the same concrete
// value ExecLine would have produced had the caller disallowed
// streaming: the final chunk's Result if it set one, else the
// concatenation of every chunk's Data.
func (lo *LazyOutput) Materialize() interface{} {
	return materializeChunks(lo.chunks)
}

func materializeChunks(chunks []tools.ToolChunk) interface{} {
	for i := len(chunks) - 1; i >= 0; i-- {
		if chunks[i].IsFinal && chunks[i].Result != nil {
			return chunks[i].Result
		}
	}
	var buf strings.Builder
	for _, c := range chunks {
		buf.WriteString(c.Data)
	}
	return buf.String()
}
