package queue

import (
	"fmt"

	"creditjobs/internal/domain"
)

// DefaultPrefix namespaces every queue key.
const DefaultPrefix = "creditjobs:queue"

func (q *RedisQueue) waitingKey(category domain.Category) string {
	return fmt.Sprintf("%s:%s:waiting", q.prefix, category)
}

func (q *RedisQueue) itemKeyPrefix(category domain.Category) string {
	return fmt.Sprintf("%s:%s:item:", q.prefix, category)
}

func (q *RedisQueue) itemKey(category domain.Category, id string) string {
	return q.itemKeyPrefix(category) + id
}
