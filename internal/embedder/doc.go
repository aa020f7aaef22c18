// Package embedder turns normalized article text into vector embeddings.
//
// The embedder supports hosted providers (Jina AI, OpenAI) and an offline
// hashing provider, and adds batching, caching, rate limiting and retry on
// top of them.
//
// # Basic Usage
//
//	emb, err := embedder.New(embedder.Config{Provider: "local", CacheSize: 10000})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vectors, err := embedder.EmbedAll(ctx, emb, texts, embedder.DefaultBatchSize)
//
// EmbedAll is all-or-nothing: a batch of articles either gets a vector for
// every text or an error wrapping ErrProviderFailed.
//
// # Provider Selection
//
// With an empty Config.Provider the provider is chosen from the environment:
//
//  1. If NEWSCLUSTER_EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if JINA_API_KEY is set → use Jina AI
//  3. Else if OPENAI_API_KEY is set → use OpenAI
//  4. Else → local hashing provider (offline mode)
//
// # Hosted Providers
//
// Jina and OpenAI share the /v1/embeddings wire format and are served by
// HTTPProvider. Inputs are clipped to the model's token limit with the
// cl100k_base tokenizer, requests can be throttled with
// HTTPOptions.RequestsPerSecond, and 5xx/429 responses are retried with
// exponential backoff. Other 4xx responses fail immediately.
//
// # Caching
//
// Embeddings are cached in an LRU keyed by the SHA-256 of model and text.
// The splitter re-embeds batches it could not shrink, so the cache turns
// those rounds into lookups.
package embedder
