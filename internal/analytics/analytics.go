// Package analytics отслеживает распределение входных показателей пациентов.
// Для каждого показателя ведется скользящее окно; z-score нового наблюдения
// относительно окна выше порога означает выброс на входе модели.
package analytics

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"vitals-risk-service/internal/models"
)

const (
	// WindowSize размер окна для rolling average и z-score (50 наблюдений)
	WindowSize = 50
	// ZScoreThreshold порог для выброса (> 3σ)
	ZScoreThreshold = 3.0
	// MinSamples минимум наблюдений в окне до проверки выбросов
	MinSamples = 10
)

// constantTolerance относительный порог дисперсии, ниже которого окно считается постоянным
const constantTolerance = 1e-12

// SlidingWindow реализует скользящее окно для хранения значений
type SlidingWindow struct {
	values []float64
	size   int
	index  int
	count  int
}

// NewSlidingWindow создает новое скользящее окно заданного размера
func NewSlidingWindow(size int) *SlidingWindow {
	return &SlidingWindow{
		values: make([]float64, size),
		size:   size,
	}
}

// Add добавляет новое значение в окно, вытесняя самое старое
func (sw *SlidingWindow) Add(value float64) {
	if sw.count < sw.size {
		sw.count++
	}
	sw.values[sw.index] = value
	sw.index = (sw.index + 1) % sw.size
}

// Mean возвращает среднее значение (rolling average)
func (sw *SlidingWindow) Mean() float64 {
	if sw.count == 0 {
		return 0
	}
	return stat.Mean(sw.values[:sw.count], nil)
}

// StdDev возвращает выборочное стандартное отклонение.
// Окно из одинаковых значений дает ровно 0.
func (sw *SlidingWindow) StdDev() float64 {
	if sw.count < 2 {
		return 0
	}
	mean, variance := stat.MeanVariance(sw.values[:sw.count], nil)
	if variance <= constantTolerance*math.Max(mean*mean, 1) {
		return 0
	}
	return math.Sqrt(variance)
}

// ZScore вычисляет z-score для заданного значения
func (sw *SlidingWindow) ZScore(value float64) float64 {
	stdDev := sw.StdDev()
	if stdDev == 0 {
		return 0
	}
	return (value - sw.Mean()) / stdDev
}

// Count возвращает количество элементов в окне
func (sw *SlidingWindow) Count() int {
	return sw.count
}

// Monitor проверяет входные показатели на выбросы
type Monitor struct {
	mu          sync.RWMutex
	windowSize  int
	threshold   float64
	windows     map[string]*SlidingWindow
	samplesChan chan models.VitalsSample
	resultsChan chan models.DriftResult
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewMonitor создает монитор; нулевые параметры заменяются значениями по умолчанию
func NewMonitor(bufferSize, windowSize int, threshold float64) *Monitor {
	if windowSize <= 0 {
		windowSize = WindowSize
	}
	if threshold <= 0 {
		threshold = ZScoreThreshold
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Monitor{
		windowSize:  windowSize,
		threshold:   threshold,
		windows:     make(map[string]*SlidingWindow),
		samplesChan: make(chan models.VitalsSample, bufferSize),
		resultsChan: make(chan models.DriftResult, bufferSize),
		stopChan:    make(chan struct{}),
	}
}

// Start запускает горутины для обработки наблюдений
func (m *Monitor) Start(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

func (m *Monitor) worker() {
	defer m.wg.Done()
	for {
		select {
		case sample := <-m.samplesChan:
			result := m.analyze(sample)
			select {
			case m.resultsChan <- result:
			default:
				// Канал результатов переполнен, пропускаем
			}
		case <-m.stopChan:
			return
		}
	}
}

// analyze проверяет наблюдение и добавляет его в окна
func (m *Monitor) analyze(s models.VitalsSample) models.DriftResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := models.DriftResult{
		Timestamp: s.Timestamp,
		Variant:   s.Variant,
		ZScores:   make(map[string]float64, len(s.Values)),
	}

	fields := make([]string, 0, len(s.Values))
	for field := range s.Values {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		value := s.Values[field]
		window, ok := m.windows[field]
		if !ok {
			window = NewSlidingWindow(m.windowSize)
			m.windows[field] = window
		}

		// z-score считаем до добавления в окно
		z := window.ZScore(value)
		result.ZScores[field] = z
		if window.Count() >= MinSamples && math.Abs(z) > m.threshold {
			result.Outliers = append(result.Outliers, field)
		}
		window.Add(value)
	}

	result.AnomalyDetected = len(result.Outliers) > 0
	return result
}

// Submit отправляет наблюдение на обработку без блокировки
func (m *Monitor) Submit(s models.VitalsSample) bool {
	select {
	case m.samplesChan <- s:
		return true
	default:
		return false
	}
}

// AnalyzeSync синхронно проверяет наблюдение
func (m *Monitor) AnalyzeSync(s models.VitalsSample) models.DriftResult {
	return m.analyze(s)
}

// Results возвращает канал результатов
func (m *Monitor) Results() <-chan models.DriftResult {
	return m.resultsChan
}

// Stats возвращает скользящую статистику по каждому показателю
func (m *Monitor) Stats() map[string]models.FieldStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]models.FieldStats, len(m.windows))
	for field, w := range m.windows {
		stats[field] = models.FieldStats{Mean: w.Mean(), StdDev: w.StdDev(), Count: w.Count()}
	}
	return stats
}

// Threshold возвращает порог z-score
func (m *Monitor) Threshold() float64 {
	return m.threshold
}

// WindowSize возвращает размер окна
func (m *Monitor) WindowSize() int {
	return m.windowSize
}

// Stop останавливает монитор
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}
