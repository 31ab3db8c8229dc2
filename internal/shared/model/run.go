// Package model 定义核心数据模型
//
// run.go 包含流水线执行相关的数据模型定义：
//   - Run：一次索引构建流水线的执行记录
//   - RunStatus：执行状态枚举
//   - Step / StepRecord：固定顺序的流水线步骤及其执行记录
//   - FailMode：故障注入模式（用于演练 replay）
package model

import (
	"time"
)

// ============================================================================
// Step - 流水线步骤
// ============================================================================

// Step 流水线步骤名称
//
// 步骤顺序固定：discover → chunk → embed → upsert → promote → smoketest。
// 第 N 步的输入是第 N-1 步的产物，因此单个 Run 内步骤串行执行，
// 并发只存在于 Run 之间。
type Step string

const (
	StepDiscover  Step = "discover"  // 扫描数据集，加载文档
	StepChunk     Step = "chunk"     // 文档切分
	StepEmbed     Step = "embed"     // 生成向量
	StepUpsert    Step = "upsert"    // 写入向量命名空间
	StepPromote   Step = "promote"   // 目录晋升（版本追加 + 指针切换）
	StepSmoketest Step = "smoketest" // 通过别名做查询冒烟检查
)

// StepOrder 返回固定的步骤顺序
func StepOrder() []Step {
	return []Step{StepDiscover, StepChunk, StepEmbed, StepUpsert, StepPromote, StepSmoketest}
}

// StepIndex 返回步骤在固定顺序中的下标，未知步骤返回 -1
func StepIndex(s Step) int {
	for i, step := range StepOrder() {
		if step == s {
			return i
		}
	}
	return -1
}

// ValidStep 判断是否为已知步骤
func ValidStep(s Step) bool {
	return StepIndex(s) >= 0
}

// ============================================================================
// StepStatus / StepRecord
// ============================================================================

// StepStatus 单个步骤的状态
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusDone    StepStatus = "done"
	StepStatusFailed  StepStatus = "failed"
)

// StepRecord 一个步骤在一次 Run 中的执行记录
//
// 不变量：
//   - Error 仅在 failed 时出现
//   - ArtifactRef 仅在 done 时出现
//   - 沿固定顺序状态单调：前序步骤未 done 时后续步骤不会 done
type StepRecord struct {
	Step        Step       `json:"step" db:"step" bson:"step"`
	Status      StepStatus `json:"status" db:"status" bson:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at" bson:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" db:"finished_at" bson:"finished_at,omitempty"`
	Error       string     `json:"error,omitempty" db:"error" bson:"error,omitempty"`
	ArtifactRef string     `json:"artifact_ref,omitempty" db:"artifact_ref" bson:"artifact_ref,omitempty"`
}

// ============================================================================
// RunStatus / FailMode
// ============================================================================

// RunStatus Run 的整体状态
//
//   - pending：已持久化，等待 worker 领取
//   - running：worker 正在执行（基础设施故障后重投递时也处于此状态）
//   - failed：确定性失败（业务/注入），只能通过显式 replay 恢复
//   - succeeded：全部步骤 done，版本已晋升
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSucceeded RunStatus = "succeeded"
)

// Terminal 判断是否为终态
func (s RunStatus) Terminal() bool {
	return s == RunStatusFailed || s == RunStatusSucceeded
}

// FailMode 故障注入模式
//
// 调用方可在提交构建/重放时要求某个步骤确定性失败，用于演练 replay 路径：
//   - never：不注入
//   - once：每个 Run 只注入一次，触发后自动失效（落库持久化，不怕重投递）
//   - always：每次执行到该步骤都注入
type FailMode string

const (
	FailModeNever  FailMode = "never"
	FailModeOnce   FailMode = "once"
	FailModeAlways FailMode = "always"
)

// ValidFailMode 判断是否为已知注入模式
func ValidFailMode(m FailMode) bool {
	return m == FailModeNever || m == FailModeOnce || m == FailModeAlways
}

// ============================================================================
// Run
// ============================================================================

// Run 一次流水线执行记录
//
// Run 由 build 请求创建，仅由持有其任务租约的 worker 修改，
// 永不删除（保留用于审计和 replay）。
type Run struct {
	// ID 唯一标识（uuid）
	ID string `json:"id" db:"id" bson:"_id"`

	// Index 目标逻辑索引名
	Index string `json:"index" db:"index_name" bson:"index"`

	// Dataset 数据集引用
	Dataset string `json:"dataset" db:"dataset" bson:"dataset"`

	// Status 整体状态
	Status RunStatus `json:"status" db:"status" bson:"status"`

	// FailStep / FailMode 故障注入指令（FailStep 为空表示不注入）
	FailStep Step     `json:"fail_step,omitempty" db:"fail_step" bson:"fail_step,omitempty"`
	FailMode FailMode `json:"fail_mode,omitempty" db:"fail_mode" bson:"fail_mode,omitempty"`

	// FailFired once 模式的触发闩锁，触发后置位并持久化
	FailFired bool `json:"fail_fired,omitempty" db:"fail_fired" bson:"fail_fired,omitempty"`

	// Error Run 级错误信息（failed 时出现，replay 时清除）
	Error string `json:"error,omitempty" db:"error" bson:"error,omitempty"`

	// Steps 固定顺序的步骤记录
	Steps []StepRecord `json:"steps" db:"-" bson:"steps"`

	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// NewRun 创建一个全新的 pending Run，步骤全部初始化为 pending
func NewRun(id, index, dataset string, failStep Step, failMode FailMode) *Run {
	now := time.Now().UTC()
	steps := make([]StepRecord, 0, len(StepOrder()))
	for _, s := range StepOrder() {
		steps = append(steps, StepRecord{Step: s, Status: StepStatusPending})
	}
	if failMode == "" {
		failMode = FailModeNever
	}
	return &Run{
		ID:        id,
		Index:     index,
		Dataset:   dataset,
		Status:    RunStatusPending,
		FailStep:  failStep,
		FailMode:  failMode,
		Steps:     steps,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StepRecord 返回指定步骤的记录，不存在时返回 nil
func (r *Run) StepRecord(step Step) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Step == step {
			return &r.Steps[i]
		}
	}
	return nil
}

// FirstNonDoneStep 返回第一个未完成的步骤
//
// 全部 done 时返回 ("", false)。replay 的 from-step 必须不晚于该步骤。
func (r *Run) FirstNonDoneStep() (Step, bool) {
	for _, rec := range r.Steps {
		if rec.Status != StepStatusDone {
			return rec.Step, true
		}
	}
	return "", false
}

// CanReplayFrom 判断 fromStep 是否是合法的 replay 起点
//
// 要求 fromStep 是已知步骤，且不晚于第一个未完成的步骤
// （晚于它会跳过尚未产出的上游产物）。
func (r *Run) CanReplayFrom(fromStep Step) bool {
	idx := StepIndex(fromStep)
	if idx < 0 {
		return false
	}
	first, ok := r.FirstNonDoneStep()
	if !ok {
		return false
	}
	return idx <= StepIndex(first)
}

// ShouldInjectFailure 判断本次执行到 step 时是否应注入失败
//
// 只做判定，不修改状态；once 模式触发后由调用方持久化 FailFired。
func (r *Run) ShouldInjectFailure(step Step) bool {
	if r.FailStep != step || r.FailStep == "" {
		return false
	}
	switch r.FailMode {
	case FailModeAlways:
		return true
	case FailModeOnce:
		return !r.FailFired
	default:
		return false
	}
}
