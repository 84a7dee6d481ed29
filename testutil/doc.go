// Package testutil 汇集跨包测试使用的桩实现。
package testutil
