// Package pipeline 步骤纯函数测试
package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	// 短文本：单块
	chunks := ChunkText("hello world", 600, 80)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0])

	// 长文本：滑动窗口，相邻块有重叠
	text := strings.Repeat("a", 600) + strings.Repeat("b", 600)
	chunks = ChunkText(text, 600, 80)
	require.True(t, len(chunks) >= 2)
	assert.Len(t, chunks[0], 600)
	// 第二块以第一块尾部的重叠开始
	assert.Equal(t, chunks[0][600-80:], chunks[1][:80])

	// 空文本
	assert.Empty(t, ChunkText("", 600, 80))

	// 非法 overlap 退化为无重叠
	chunks = ChunkText(strings.Repeat("x", 100), 10, 10)
	assert.Len(t, chunks, 10)
}

func TestChunkDocs(t *testing.T) {
	docs := []Document{
		{ID: "doc1", Text: strings.Repeat("a", 700)},
		{ID: "doc2", Text: "short"},
	}
	chunks := ChunkDocs(docs, 600, 80)
	require.Len(t, chunks, 3)
	assert.Equal(t, "doc1:0", chunks[0].ID)
	assert.Equal(t, "doc1:1", chunks[1].ID)
	assert.Equal(t, "doc2:0", chunks[2].ID)
	assert.Equal(t, "doc2", chunks[2].DocID)
}

func TestFakeEmbedDeterministic(t *testing.T) {
	a := FakeEmbed("hello", 16)
	b := FakeEmbed("hello", 16)
	assert.Equal(t, a, b)
	require.Len(t, a, 16)

	// 不同文本产生不同向量
	c := FakeEmbed("world", 16)
	assert.NotEqual(t, a, c)

	// 值域 [-1, 1]
	for _, v := range a {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(1))
	}

	// 超过摘要长度的维度循环展开
	long := FakeEmbed("hello", 64)
	require.Len(t, long, 64)
	assert.Equal(t, long[0], long[32])
}

func TestPointIDStable(t *testing.T) {
	assert.Equal(t, PointID("doc1:0"), PointID("doc1:0"))
	assert.NotEqual(t, PointID("doc1:0"), PointID("doc1:1"))
	assert.Len(t, PointID("doc1:0"), 16)
}

func TestNamespaceForRun(t *testing.T) {
	assert.Equal(t, "ns_12345678", NamespaceForRun("12345678-abcd-efgh"))
	assert.Equal(t, "ns_abc", NamespaceForRun("abc"))
}

func TestLoadDocs(t *testing.T) {
	dir := t.TempDir()
	datasetDir := filepath.Join(dir, "sample")
	require.NoError(t, os.MkdirAll(datasetDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(datasetDir, "b.md"), []byte("doc b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(datasetDir, "a.md"), []byte("doc a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(datasetDir, "ignore.txt"), []byte("nope"), 0644))

	docs, err := LoadDocs(dir, "sample")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	// 按文件名排序
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "doc a", docs[0].Text)
	assert.Equal(t, "b", docs[1].ID)

	// 空数据集是确定性失败
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	_, err = LoadDocs(dir, "empty")
	require.Error(t, err)

	// 目录不存在同样是确定性失败
	_, err = LoadDocs(dir, "missing")
	require.Error(t, err)
}
