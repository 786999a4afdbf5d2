package memory

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/redis/go-redis/v9"
)

// RedisVectorIndex is a Redis-backed VectorIndex (spec §4.4's vector
// database). Embeddings are stored as a base64-encoded little-endian
// float32 buffer under "<prefix>:<artifact_id>" and similarity search scans
// the index's member set, scoring each with cosine similarity. This avoids
// depending on a specific vector-search module build while still using
// Redis as the documented persistent vector backend.
type RedisVectorIndex struct {
	client *redis.Client
	prefix string
}

var _ VectorIndex = (*RedisVectorIndex)(nil)

// NewRedisVectorIndex constructs a RedisVectorIndex. prefix namespaces keys
// (e.g. "flowforge:artifacts:embeddings").
func NewRedisVectorIndex(client *redis.Client, prefix string) *RedisVectorIndex {
	if prefix == "" {
		prefix = "flowforge:artifacts:embeddings"
	}
	return &RedisVectorIndex{client: client, prefix: prefix}
}

func (r *RedisVectorIndex) key(artifactID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, artifactID)
}

func encodeEmbedding(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeEmbedding(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

// Upsert stores embedding for artifactID, adding it to the index's member
// set so TopK can enumerate it.
func (r *RedisVectorIndex) Upsert(ctx context.Context, artifactID string, embedding []float32) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(artifactID), encodeEmbedding(embedding), 0)
	pipe.SAdd(ctx, r.prefix+":ids", artifactID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("memory: redis upsert %s: %w", artifactID, err)
	}
	return nil
}

// Delete removes the embedding and index membership for artifactID.
func (r *RedisVectorIndex) Delete(ctx context.Context, artifactID string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.key(artifactID))
	pipe.SRem(ctx, r.prefix+":ids", artifactID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("memory: redis delete %s: %w", artifactID, err)
	}
	return nil
}

// TopK scans every indexed artifact and returns the k most similar to
// query by cosine similarity.
func (r *RedisVectorIndex) TopK(ctx context.Context, query []float32, k int) ([]ScoredID, error) {
	ids, err := r.client.SMembers(ctx, r.prefix+":ids").Result()
	if err != nil {
		return nil, fmt.Errorf("memory: redis list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("memory: redis mget: %w", err)
	}

	scored := make([]ScoredID, 0, len(ids))
	for i, raw := range values {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		emb, err := decodeEmbedding(s)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredID{ArtifactID: ids[i], Similarity: CosineSimilarity(query, emb)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}
