// Package database 管理 GORM 连接的打开、连接池参数、健康检查与事务执行。
//
// 支持 postgres、mysql 与纯 Go 的 sqlite 驱动。
package database
