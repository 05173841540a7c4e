// Package crawlers 提供卡牌系列列表页的抓取、分页解析和双向扫描
//
// # 概述
//
// 抓取分为两种模式:静态(Colly)和动态(go-rod + stealth)。两种模式共用同一套
// 会话池、字段抽取器和容错策略,由 PageClient 统一入口。
//
// # 核心组件
//
// ## SessionPool (会话池)
//
// 管理浏览器身份会话的生命周期。会话数量上限取配置值和 ResourceMonitor
// 计算值中较小的一个;会话达到轮换次数或被标记损坏后,归还时销毁。
// Cookie在池关闭时合并写回Cookie文件,下次打开时加载。
//
//	pool := NewSessionPool(factory, identities, monitor, SessionPoolConfig{
//	    MaxSessions: 3,
//	    RotateEvery: 50,
//	    CookieFile:  "data/catalog.cookies.json",
//	})
//	if err := pool.Open(ctx); err != nil { /* 处理错误 */ }
//	defer pool.Close()
//
// ## PaginationResolver (分页解析)
//
// 抓取第1页并读取页数指示器。"150+" 这样的指示器表示页数为估计值,
// 没有指示器时视为单页,解析失败返回nil。
//
// ## Scanner (双向扫描)
//
// 升序扫描 1..N 页,worker并发抓取,结果按页序重组。页数为估计值时,
// 以升序最后一页的最后一条记录作为哨兵,再从末端降序扫描直到遇到哨兵,
// 从而补全估计值之外的页面。
//
//	scanner := NewScanner(client, ScannerConfig{Workers: 3, Stagger: 2 * time.Second}, metrics)
//	result, err := scanner.Scan(ctx, listing, *count)
//
// ## ResourceMonitor (资源监控器)
//
// 监控系统可用内存和CPU负载,计算可同时存在的会话数。
//
// # 错误处理
//
//   - 429: RateLimitedError,会话被标记损坏并触发熔断冷却
//   - 403 或封禁页面: BlockedError,处理方式同上
//   - 404: 视为空页
//   - 验证挑战: ChallengeError,由 resilience.ChallengeGate 等待人工处理
//   - 页面结构异常: DataShapeError,不重试
package crawlers
