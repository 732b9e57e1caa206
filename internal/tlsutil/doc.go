// Package tlsutil 集中管理 TLS 配置：API 服务端证书加载与 worker 客户端的
// 安全 Transport（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
