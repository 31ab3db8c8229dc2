// Package model 定义核心数据模型
//
// index.go 包含索引目录相关的数据模型定义：
//   - IndexVersion：一次成功构建产生的不可变版本快照
//   - IndexHistory：逻辑索引的版本历史 + 单一 active 指针
package model

import (
	"time"
)

// IndexVersion 索引的一个不可变版本
//
// 版本号从 1 开始单调递增，永不复用、永不删除——
// rollback 只移动 active 指针，不截断历史。
type IndexVersion struct {
	// Version 单调递增的版本号
	Version int64 `json:"version" db:"version" bson:"version"`

	// Namespace 底层向量存储的命名空间标识
	Namespace string `json:"namespace" db:"namespace" bson:"namespace"`

	// Promoted 该版本是否经历过晋升（目录追加的版本总是随晋升产生）
	Promoted bool `json:"promoted" db:"promoted" bson:"promoted"`

	// CreatedAt 创建时间
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
}

// IndexHistory 逻辑索引的版本目录
//
// Active 指针是跨所有 worker 进程共享的竞争资源，
// 所有修改都必须通过存储层的乐观并发检查（Rev 比对），
// 进程内锁不能提供任何保护。
type IndexHistory struct {
	// Index 逻辑索引名
	Index string `json:"index" db:"index_name" bson:"_id"`

	// Versions 按版本号升序的完整历史
	Versions []IndexVersion `json:"versions" db:"-" bson:"versions"`

	// Active 当前服务查询的版本号，从未晋升过时为 nil
	Active *int64 `json:"active" db:"active_version" bson:"active,omitempty"`

	// Rev 指针记录的乐观并发修订号，每次指针变更递增
	Rev int64 `json:"-" db:"rev" bson:"rev"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// NewIndexVersion 创建一个晋升产生的版本记录
func NewIndexVersion(version int64, namespace string) *IndexVersion {
	return &IndexVersion{
		Version:   version,
		Namespace: namespace,
		Promoted:  true,
		CreatedAt: time.Now().UTC(),
	}
}

// NextVersion 返回下一个待分配的版本号
func (h *IndexHistory) NextVersion() int64 {
	var max int64
	for _, v := range h.Versions {
		if v.Version > max {
			max = v.Version
		}
	}
	return max + 1
}

// VersionRecord 返回指定版本号的记录，不存在时返回 nil
func (h *IndexHistory) VersionRecord(version int64) *IndexVersion {
	for i := range h.Versions {
		if h.Versions[i].Version == version {
			return &h.Versions[i]
		}
	}
	return nil
}

// VersionByNamespace 返回指定命名空间的版本记录，不存在时返回 nil
//
// 命名空间由 Run 派生、每次构建唯一，因此可以据此识别
// 同一次构建重复到达的晋升。
func (h *IndexHistory) VersionByNamespace(namespace string) *IndexVersion {
	for i := range h.Versions {
		if h.Versions[i].Namespace == namespace {
			return &h.Versions[i]
		}
	}
	return nil
}

// ActiveVersion 返回当前 active 版本的记录，从未晋升时返回 nil
func (h *IndexHistory) ActiveVersion() *IndexVersion {
	if h.Active == nil {
		return nil
	}
	return h.VersionRecord(*h.Active)
}

// RollbackTarget 计算回退 steps 个版本后的目标版本
//
// 目标按 active 版本在历史序列中的序号位置回退计算。
// 从未晋升、或回退会越过第一个版本时返回 (nil, false)。
func (h *IndexHistory) RollbackTarget(steps int) (*IndexVersion, bool) {
	if h.Active == nil || steps < 0 {
		return nil, false
	}
	idx := -1
	for i := range h.Versions {
		if h.Versions[i].Version == *h.Active {
			idx = i
			break
		}
	}
	if idx < 0 || idx-steps < 0 {
		return nil, false
	}
	return &h.Versions[idx-steps], true
}
