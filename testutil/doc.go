// Copyright 2026 Swarmplane Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 swarmplane 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor /
    WaitForChannel，用于 Watch 推送与异步审计等场景
  - 数据工具: MustJSON / MustParseJSON / AssertJSONEqual
  - 外部依赖替身: NewRedis 基于 miniredis，NewTestDB 基于内存 SQLite 的 gorm 连接

# 使用示例

	ctx := testutil.TestContext(t)
	_, client := testutil.NewRedis(t)
	store := coordination.NewRedisStore(client, coordination.DefaultRedisStoreConfig(), nil)
*/
package testutil
