// Package eventbus — внутренняя шина событий террейна. Компоненты
// публикуют факты (чанк готов, правка зафиксирована, обвал разрешён),
// подписчики — логгер, метрики, владелец сцены — потребляют их без
// прямых ссылок друг на друга.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/voxel-terrain/internal/vec"
)

// Типы событий террейна.
const (
	EventChunkReady       = "ChunkReady"       // меш чанка прошёл пайплайн
	EventChunkUnloaded    = "ChunkUnloaded"    // чанк помечен на выгрузку
	EventEditCommitted    = "EditCommitted"    // кисть зафиксировала правку
	EventCollapseResolved = "CollapseResolved" // гравитация переместила массу
	EventRequestDropped   = "RequestDropped"   // запрос отброшен переполненной очередью
)

// Приоритеты событий: при переполнении буфера низкий приоритет дропается.
const (
	PriorityLow    = 2
	PriorityNormal = 4
	PriorityHigh   = 7
)

// Envelope описывает универсальный контейнер события.
type Envelope struct {
	ID        string            // Глобально уникальный идентификатор (UUID).
	Timestamp time.Time         // Время создания события (UTC).
	Source    string            // Имя компонента-источника.
	EventType string            // Тип события (константы выше).
	Priority  int               // 0=Low … 9=Critical (для backpressure).
	Payload   any               // Типизированная полезная нагрузка.
	Metadata  map[string]string // Произвольные метаданные.
}

// NewEnvelope собирает конверт с UUID и меткой времени.
func NewEnvelope(source, eventType string, priority int, payload any) *Envelope {
	return &Envelope{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Priority:  priority,
		Payload:   payload,
	}
}

// ChunkReadyPayload — меш чанка собран и отдан потребителю.
type ChunkReadyPayload struct {
	Coord     vec.Vec3
	LOD       int
	Triangles int
}

// ChunkUnloadedPayload — чанк покинул желаемое множество.
type ChunkUnloadedPayload struct {
	Coord  vec.Vec3
	Handle string
}

// EditCommittedPayload — кисть применила правку к слою модификаций.
type EditCommittedPayload struct {
	Cells    int // затронутых XZ-ячеек
	Strength float32
	Version  uint64 // версия слоя после правки
}

// CollapseResolvedPayload — итог гравитационной проверки.
type CollapseResolvedPayload struct {
	Components int // перемещённых компонент
	Touched    []vec.Vec3
}

// RequestDroppedPayload — бекпрешер: запрос не влез в очередь.
type RequestDroppedPayload struct {
	Coord vec.Vec3
	LOD   int
}

// Filter позволяет подписаться только на нужные события.
type Filter struct {
	Types   []string // Если пусто — все типы.
	Sources []string // Если пусто — все источники.
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu           sync.RWMutex
	subscribers  map[int]subscriber
	nextID       int
	stats        Stats
	buffer       chan *Envelope
	capacity     int
	dropPriority int
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с указанным буфером.
// События с приоритетом ниже dropPriority при переполнении дропаются молча;
// остальные ждут места или отмены контекста.
func NewMemoryBus(capacity, dropPriority int) EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &memoryBus{
		subscribers:  make(map[int]subscriber),
		buffer:       make(chan *Envelope, capacity),
		capacity:     capacity,
		dropPriority: dropPriority,
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	select {
	case mb.buffer <- ev:
		mb.mu.Lock()
		mb.stats.Published++
		mb.mu.Unlock()
		return nil
	default:
		// Буфер заполнен — низкий приоритет дропаем без ошибки
		if ev.Priority < mb.dropPriority {
			mb.mu.Lock()
			mb.stats.Dropped++
			mb.mu.Unlock()
			return nil
		}
		// Для high-priority блокируем до освобождения места или отмены контекста
		select {
		case mb.buffer <- ev:
			mb.mu.Lock()
			mb.stats.Published++
			mb.mu.Unlock()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	for ev := range mb.buffer {
		ev := ev
		mb.mu.RLock()
		subs := make([]subscriber, 0, len(mb.subscribers))
		for _, sub := range mb.subscribers {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !matchFilter(ev, sub.filter) {
				continue
			}
			go func(s subscriber) {
				select {
				case <-s.ctx.Done():
					return
				default:
					s.handler(s.ctx, ev)
					mb.mu.Lock()
					mb.stats.Consumed++
					mb.mu.Unlock()
				}
			}(sub)
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		if len(arr) == 0 {
			return true
		}
		for _, v := range arr {
			if v == val {
				return true
			}
		}
		return false
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
