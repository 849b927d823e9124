// Package codec 编解码入口函数的调用参数。
//
// 编码不带类型标记：长度与元素个数都是 1 字节前缀，定长值（u8、u64、address）首尾相接。
// 因此解码前必须知道期望的 Kind，仅凭字节无法区分 vector<u64> 与 vector<u8>。
package codec
