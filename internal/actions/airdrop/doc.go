// Package airdrop 实现原生代币空投动作：从 URL 读取收款地址列表，
// 在同一条链上通过分发合约的 airdropETH 方法一次性平分转账。
package airdrop
