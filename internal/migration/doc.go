// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 swarmplane 的关系库 Schema，基于 golang-migrate，
支持 PostgreSQL、MySQL 与 SQLite。

迁移文件以 embed.FS 内嵌，当前包含审计事件表 audit_events
与成本账本表 cost_records，索引命名与 gorm 默认命名一致。

  - Migrator / DefaultMigrator：Up/Down/Steps/Force/Version/Status/Info。
  - NewMigratorFromDatabaseConfig / Apply：从服务配置创建迁移器或直接执行迁移。
  - CLI：swarmplane migrate 子命令的格式化输出。
*/
package migration
