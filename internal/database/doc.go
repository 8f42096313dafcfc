// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 GORM 连接并管理连接池。

  - Open/Dialector：按驱动名（postgres、mysql、sqlite、sqlite3）构造方言，
    gorm 日志经 NewGormLogger 写入 zap。
  - PoolManager：连接池参数、后台健康检查、统计信息以及
    Prometheus DB 统计采集器。

审计事件与成本账本的 gorm 后端共用同一个连接池。
*/
package database
