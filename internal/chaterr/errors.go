// Package chaterr 定义了聊天核心的错误分类。
// 各层通过 %w 包装这些哨兵错误，调用方用 errors.Is 判断类别。
package chaterr

import "errors"

var (
	// ErrConfiguration 表示无法解析出可用的运行时配置，
	// 例如没有任何可用的 API Key，或系统处于维护模式。
	ErrConfiguration = errors.New("configuration error")

	// ErrCompletion 表示补全服务调用失败或返回了不可用的内容。
	ErrCompletion = errors.New("completion error")

	// ErrPersistence 表示远端仓储调用失败。该类错误永远不致命：
	// 本地状态已经生效，失败只作为降级事件上报。
	ErrPersistence = errors.New("persistence error")

	// ErrValidation 表示请求内容非法，例如空消息或格式错误的设置补丁。
	ErrValidation = errors.New("validation error")
)
