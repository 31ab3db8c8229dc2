// Package config 配置类型定义
//
// API Server 和 Worker 共用同一 YAML schema，通过章节（section）区分。
//
// 凭据单一数据源：密码/密钥只存在 .env 文件中（YAML 中不存储任何密码）。
package config

import "time"

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test" // 测试环境（集成测试 + E2E 共用）
	EnvDevelopment Environment = "dev"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	Server   ServerConfig   `yaml:"server"`   // API Server
	Database DatabaseConfig `yaml:"database"` // Run 账本 + 目录存储
	Redis    RedisConfig    `yaml:"redis"`    // 队列 / 向量库 / Run 日志（共享）
	MinIO    MinIOConfig    `yaml:"minio"`    // 产物对象存储
	Catalog  CatalogConfig  `yaml:"catalog"`  // 目录后端选择
	Pipeline PipelineConfig `yaml:"pipeline"` // 流水线参数
	Worker   WorkerConfig   `yaml:"worker"`   // Worker 消费参数
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "postgres", "sqlite", or "mongodb"（默认 sqlite）
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从环境变量读取（DB_PASSWORD / MONGO_ROOT_PASSWORD）
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	URI      string `yaml:"uri"` // MongoDB 连接 URI（优先于 host/port）
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL（优先于 host/port/db）
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// CatalogConfig 目录后端配置
//
// backend 为空时目录与 Run 账本共用 database 配置的存储；
// 设为 "etcd" 时目录单独存放在 etcd（指针 CAS 使用 mod-revision）。
type CatalogConfig struct {
	Backend string     `yaml:"backend"` // "" / "etcd"
	Etcd    EtcdConfig `yaml:"etcd"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// PipelineConfig 流水线参数
type PipelineConfig struct {
	DocsDir      string `yaml:"docs_dir"`      // 数据集根目录
	EmbedDim     int    `yaml:"embed_dim"`     // 向量维度
	ChunkSize    int    `yaml:"chunk_size"`    // 切分窗口（字符）
	ChunkOverlap int    `yaml:"chunk_overlap"` // 相邻分块重叠（字符）
	UpsertBatch  int    `yaml:"upsert_batch"`  // 单批写入向量数
	AliasPrefix  string `yaml:"alias_prefix"`  // 查询别名前缀
}

// validate 验证并填充流水线默认值
func (p *PipelineConfig) validate() {
	if p.DocsDir == "" {
		p.DocsDir = "/data/docs"
	}
	if p.EmbedDim == 0 {
		p.EmbedDim = 16
	}
	if p.ChunkSize == 0 {
		p.ChunkSize = 600
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = 80
	}
	if p.UpsertBatch == 0 {
		p.UpsertBatch = 128
	}
	if p.AliasPrefix == "" {
		p.AliasPrefix = "idx"
	}
}

// WorkerConfig Worker 消费参数
type WorkerConfig struct {
	ConsumerID    string               `yaml:"consumer_id"`    // 消费者标识（默认主机名派生）
	ReadCount     int64                `yaml:"read_count"`     // 单次读取消息数
	ReadTimeout   time.Duration        `yaml:"read_timeout"`   // 阻塞读超时
	LeaseDuration time.Duration        `yaml:"lease_duration"` // 消息租约（超时后可被 Reclaim）
	MaxDeliveries int64                `yaml:"max_deliveries"` // 投递上限，超过移入死信流
	Fallback      WorkerFallbackConfig `yaml:"fallback"`
}

// UnmarshalYAML 支持 "5s" / "1m" 写法的时长字段
func (w *WorkerConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		ConsumerID    string               `yaml:"consumer_id"`
		ReadCount     int64                `yaml:"read_count"`
		ReadTimeout   string               `yaml:"read_timeout"`
		LeaseDuration string               `yaml:"lease_duration"`
		MaxDeliveries int64                `yaml:"max_deliveries"`
		Fallback      WorkerFallbackConfig `yaml:"fallback"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	w.ConsumerID = raw.ConsumerID
	w.ReadCount = raw.ReadCount
	w.MaxDeliveries = raw.MaxDeliveries
	w.Fallback = raw.Fallback
	if raw.ReadTimeout != "" {
		d, err := time.ParseDuration(raw.ReadTimeout)
		if err != nil {
			return err
		}
		w.ReadTimeout = d
	}
	if raw.LeaseDuration != "" {
		d, err := time.ParseDuration(raw.LeaseDuration)
		if err != nil {
			return err
		}
		w.LeaseDuration = d
	}
	return nil
}

// WorkerFallbackConfig 兜底重新入队配置
//
// 覆盖"持久化成功但入队前崩溃"的窗口：周期扫描长时间停留在
// pending 的 Run，重新投递其构建任务。
type WorkerFallbackConfig struct {
	Interval       time.Duration `yaml:"interval"`
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// UnmarshalYAML 支持 "5s" / "1m" 写法的时长字段
func (f *WorkerFallbackConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		Interval       string `yaml:"interval"`
		StaleThreshold string `yaml:"stale_threshold"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw.Interval != "" {
		d, err := time.ParseDuration(raw.Interval)
		if err != nil {
			return err
		}
		f.Interval = d
	}
	if raw.StaleThreshold != "" {
		d, err := time.ParseDuration(raw.StaleThreshold)
		if err != nil {
			return err
		}
		f.StaleThreshold = d
	}
	return nil
}

// validate 验证并填充 Worker 默认值
func (w *WorkerConfig) validate() {
	if w.ConsumerID == "" {
		w.ConsumerID = "worker-default"
	}
	if w.ReadCount == 0 {
		w.ReadCount = 10
	}
	if w.ReadTimeout == 0 {
		w.ReadTimeout = 5 * time.Second
	}
	if w.LeaseDuration == 0 {
		w.LeaseDuration = 30 * time.Second
	}
	if w.MaxDeliveries == 0 {
		w.MaxDeliveries = 5
	}
	if w.Fallback.Interval == 0 {
		w.Fallback.Interval = 1 * time.Minute
	}
	if w.Fallback.StaleThreshold == 0 {
		w.Fallback.StaleThreshold = 5 * time.Minute
	}
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres", "sqlite", or "mongodb"
	DatabaseURL    string
	DatabaseDBName string // MongoDB 数据库名称
	RedisURL       string
	APIPort        string
	MinIO          MinIOConfig
	Catalog        CatalogConfig
	Pipeline       PipelineConfig
	Worker         WorkerConfig
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server:   ServerConfig{Port: "8080"},
		Database: DatabaseConfig{Driver: "sqlite", Host: "localhost", Port: 5432, User: "indexer", Name: "rag_indexer", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "rag-indexer"},
		Catalog:  CatalogConfig{Etcd: EtcdConfig{Endpoints: []string{"localhost:2379"}, Prefix: "/rag-indexer"}},
	}
}
