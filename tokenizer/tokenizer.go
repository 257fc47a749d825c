package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 是统一的 Token 计数接口.
//
// 计数结果在调用前作为准入估算值使用, 调用后与 Provider 返回的
// 实际用量对账, 因此实现只需要"足够接近", 不要求逐字精确。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的结构开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免对 provider 包的依赖。
type Message struct {
	Role    string
	Content string
}

// 全局分词器注册表, 按模型名索引.
var (
	registry   = make(map[string]Tokenizer)
	registryMu sync.RWMutex
)

// Register 为给定的模型名称注册分词器.
// 重复注册会覆盖旧条目。
func Register(model string, t Tokenizer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[model] = t
}

// ForModel 返回为给定模型注册的分词器。
// 未命中时尝试前缀匹配 ("gpt-4o" 可匹配 "gpt-4o-2024-08-06")。
func ForModel(model string) (Tokenizer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if t, ok := registry[model]; ok {
		return t, nil
	}

	// 最长前缀匹配.
	var found Tokenizer
	best := -1
	for prefix, t := range registry {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			found = t
			best = len(prefix)
		}
	}
	if found != nil {
		return found, nil
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// ForModelOrEstimator 返回该模型的注册分词器,
// 未注册时回退到通用估算器, 永不失败。
func ForModelOrEstimator(model string) Tokenizer {
	t, err := ForModel(model)
	if err != nil {
		return NewEstimator(model, 0)
	}
	return t
}
