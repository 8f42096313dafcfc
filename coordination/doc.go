// 版权所有 2024 Swarmplane Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 coordination 提供协调平面的底层基座：一个线性一致的键值存储客户端，
支持单键比较交换事务与前缀监听。

# 概述

基座只暴露 Put / Get / Delete / Txn / Watch 五个原语，不包含任何业务逻辑。
任务认领、推送与升级全部建立在 Txn 的单键原子性与 Watch 的事件流之上。
基座自身从不重试：后端不可达时返回包装了 ErrUnavailable 的错误，
重试策略属于调用方。

# 核心类型

  - Store：基座契约。
  - MemoryStore：进程内实现，单把互斥锁保证线性一致，用于单机部署与测试。
  - RedisStore：基于 go-redis 的实现，写入与事件发布在同一 MULTI / Lua 脚本中完成，
    Watch 通过 PSUBSCRIBE 订阅事件频道。
  - Watch：一次前缀订阅，可按 ID 取消；取消不会撤回已经投递的事件。

# 使用方式

	store := coordination.NewMemoryStore(coordination.DefaultMemoryStoreConfig(), logger)
	ok, err := store.Txn(ctx,
	    coordination.Equal(coordination.TaskOwnerKey(id), []byte(coordination.Unclaimed)),
	    []coordination.Op{coordination.PutOp(coordination.TaskOwnerKey(id), []byte("swarm-a"))},
	    nil,
	)
*/
package coordination
