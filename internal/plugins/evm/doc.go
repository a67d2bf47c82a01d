// Package evm 是内置的 EVM 插件，负责把空投动作和钱包上下文注册到智能体。
package evm
