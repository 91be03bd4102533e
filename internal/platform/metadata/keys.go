package metadata

// settings 表中使用的键
const (
	// AdminKeySecretKey 保存签发活动管理密钥所用的服务器密钥，
	// 仅在未通过配置提供 security.adminKeySecret 时使用。
	AdminKeySecretKey = "admin_key_secret"
)
