// Package objstore 步骤产物存储抽象
//
// 每个完成的步骤将其产物以 JSON 形式写入对象存储，
// 键为 runs/<run_id>/<step>.json。replay 时直接复用保留步骤的产物，
// 已存在产物的步骤可以跳过重算。
package objstore

import (
	"context"

	"rag-indexer/internal/shared/model"
)

// ArtifactStore 产物存储接口
type ArtifactStore interface {
	// WriteArtifact 写入产物（整体覆盖）
	WriteArtifact(ctx context.Context, key string, data []byte) error

	// ReadArtifact 读取产物
	ReadArtifact(ctx context.Context, key string) ([]byte, error)

	// ArtifactExists 检查产物是否存在
	ArtifactExists(ctx context.Context, key string) (bool, error)

	// DeleteArtifact 删除产物（replay 重置时清理失效产物）
	DeleteArtifact(ctx context.Context, key string) error
}

// ArtifactKey 返回步骤产物的存储键
func ArtifactKey(runID string, step model.Step) string {
	return "runs/" + runID + "/" + string(step) + ".json"
}
