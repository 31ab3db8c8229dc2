// Package vector 向量库数据类型
package vector

import (
	"math"
)

// Point 一个向量点
type Point struct {
	// ID 点的稳定标识（由 chunk 标识派生，保证 upsert 幂等）
	ID string `json:"id"`

	// Vector 向量值
	Vector []float32 `json:"vector"`

	// Payload 附带的检索元数据
	Payload Payload `json:"payload"`
}

// Payload 向量点携带的元数据
type Payload struct {
	DocID   string `json:"doc_id"`
	ChunkID string `json:"chunk_id"`
	Text    string `json:"text"`
}

// SearchHit 一条查询命中
type SearchHit struct {
	ID      string  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// CosineSimilarity 余弦相似度，零向量返回 0
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
