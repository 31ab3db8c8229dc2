// Package pipeline 流水线步骤的纯计算部分
//
// 所有计算都是确定性的：同样的输入产生同样的分块、向量和点 ID，
// 这是产物复用和 upsert 幂等的基础。
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ============================================================================
// 产物类型（逐步骤落对象存储）
// ============================================================================

// Document 一篇被发现的文档
type Document struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Text string `json:"text"`
}

// Chunk 一个文档分块
type Chunk struct {
	ID    string `json:"id"`
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

// Embedding 一个分块的向量
type Embedding struct {
	ChunkID string    `json:"chunk_id"`
	Vector  []float32 `json:"vector"`
}

// UpsertResult upsert 步骤的产物
type UpsertResult struct {
	Namespace string `json:"namespace"`
	Points    int    `json:"points"`
}

// PromoteResult promote 步骤的产物
type PromoteResult struct {
	Version   int64  `json:"version"`
	Namespace string `json:"namespace"`
}

// SmoketestResult smoketest 步骤的产物
type SmoketestResult struct {
	Alias   string           `json:"alias"`
	Queries []SmoketestQuery `json:"queries"`
}

// SmoketestQuery 单条冒烟查询的结果
type SmoketestQuery struct {
	Query string `json:"query"`
	Hits  int    `json:"hits"`
	TopID string `json:"top_id,omitempty"`
}

// smoketestQueries 固定的冒烟查询集
var smoketestQueries = []string{
	"distributed systems retries",
	"rag index versioning",
	"api security auth",
}

// ============================================================================
// 纯计算函数
// ============================================================================

// LoadDocs 扫描数据集目录下的全部 .md 文档（按文件名排序）
//
// 目录不存在或没有任何文档是确定性业务失败，不是基础设施故障。
func LoadDocs(docsDir, dataset string) ([]Document, error) {
	dir := filepath.Join(docsDir, dataset)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("dataset dir %s: %w", dir, err)
	}

	var docs []Document
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, Document{
			ID:   strings.TrimSuffix(entry.Name(), ".md"),
			Path: path,
			Text: string(data),
		})
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents found in %s", dir)
	}
	return docs, nil
}

// ChunkText 按滑动窗口切分文本
//
// size 为窗口长度，overlap 为相邻窗口重叠长度（均按字节计）。
// 空文本返回空切片。
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunk := strings.TrimSpace(text[start:end])
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(text) {
			break
		}
	}
	return chunks
}

// ChunkDocs 切分全部文档，分块 ID 为 <doc_id>:<序号>
func ChunkDocs(docs []Document, size, overlap int) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		for i, text := range ChunkText(doc.Text, size, overlap) {
			chunks = append(chunks, Chunk{
				ID:    fmt.Sprintf("%s:%d", doc.ID, i),
				DocID: doc.ID,
				Text:  text,
			})
		}
	}
	return chunks
}

// FakeEmbed 确定性伪向量：以文本的 sha256 摘要循环展开填充到 dim 维，
// 每个字节映射到 [-1, 1]
func FakeEmbed(text string, dim int) []float32 {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		b := digest[i%len(digest)]
		vec[i] = float32(b)/255.0*2 - 1
	}
	return vec
}

// PointID 从分块 ID 派生稳定的向量点 ID
// 同一分块在重投递/replay 中总是产生同一个点，upsert 天然幂等
func PointID(chunkID string) string {
	digest := sha256.Sum256([]byte(chunkID))
	return hex.EncodeToString(digest[:8])
}

// NamespaceForRun 从 Run ID 派生命名空间
// 同一 Run 的重投递和 replay 写同一命名空间，版本号晋升时才分配
func NamespaceForRun(runID string) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	return "ns_" + id
}
