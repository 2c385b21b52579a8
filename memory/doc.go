// Package memory is the long-term memory of the agent.
//
// Memories are short facts ("the user's favorite color is green") stored with
// an embedding. Every turn the Recaller searches them for the user message and
// injects the best matches into the conversation; after the reply the Saver
// asks the model which facts to add, update or delete and applies them.
//
// Architecture:
//   - Store: durable record collection with exact cosine search
//     (store/file, store/chromem)
//   - Embedder: text to vector (embedder/openai, embedder/onnx, embedder/mock,
//     embedder/cache wraps any of them)
//   - Reranker: optional second-stage scorer (rerank)
//   - Retriever: two-stage search over Store, Embedder and Reranker
//   - MergePolicy: folds near-duplicate facts into the existing record
//   - Recaller / Saver: the per-turn read and write halves
//   - Manager: the facade the engine uses
//
// A failing Embedder or Reranker never fails a turn: retrieval falls back to
// cosine order, recall injects nothing, and the saver skips the turn.
package memory
