// Package summary assembles the digest prompt from stored messages and asks an
// LLM completer for a summary.
//
// The prompt is fixed: three system turns of instructions, one user turn with
// the newline-joined message bodies, and a final user turn requesting the
// summary. A store with zero eligible rows still yields a well-formed prompt.
//
// Example:
//
//	s, err := summary.NewSummarizer(store, provider.Completer(),
//	    summary.WithWindow(24*time.Hour))
//	digest, err := s.GenerateSummary(ctx)
package summary
