// Package workflow implements the multi-stage query answering pipeline.
//
// One run turns a user query into an answer by executing a fixed sequence
// of stages (relevance checking, query analysis, context validation,
// repository search, answer synthesis), each a thin adapter around an
// external text-generation or search call. Stages execute strictly
// sequentially; the orchestrator may skip stages when accumulated context
// makes them unnecessary, retries failed stages with classified backoff,
// and degrades gracefully onto conservative per-stage fallbacks.
//
// Concurrent runs are fully independent: Context and State are run-scoped
// and never shared.
package workflow
