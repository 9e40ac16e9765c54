package wb

import (
	"strings"
	"sync"
)

// AuthVariant один кандидат заголовка авторизации. Разные поколения
// Wildberries API принимали токен под разными именами заголовка и
// с префиксом Bearer либо без него, поэтому клиент перебирает варианты.
type AuthVariant struct {
	Header string
	Value  string
	// Label короткое имя варианта для логов и сообщений об ошибках.
	Label string
}

// authNegotiator упорядоченный набор вариантов авторизации и индекс
// последнего сработавшего. Под мьютексом: один клиент делят воркер и
// HTTP-обработчики.
type authNegotiator struct {
	mu       sync.Mutex
	variants []AuthVariant
	// active индекс подтверждённого варианта, -1 пока ни один не прошёл.
	active int
	// lastLabel метка последнего успешного варианта; переживает сброс active.
	lastLabel string
}

func newAuthNegotiator(token string) (*authNegotiator, error) {
	variants := prepareAuthVariants(token)
	if len(variants) == 0 {
		return nil, newConfigurationError("cannot build authorization headers: the Wildberries token is empty")
	}
	return &authNegotiator{variants: variants, active: -1}, nil
}

// prepareAuthVariants разворачивает сырой токен в список кандидатов.
// Порядок фиксирован: Authorization с Bearer, Authorization без префикса,
// затем те же две формы под X-Authorization. Токен, уже содержащий
// префикс Bearer, даёт те же четыре формы. Дубликаты по паре
// (имя заголовка без учёта регистра, значение) отбрасываются с
// сохранением порядка.
func prepareAuthVariants(token string) []AuthVariant {
	stripped := strings.TrimSpace(token)
	if stripped == "" {
		return nil
	}

	const bearerPrefix = "bearer "
	bare := stripped
	bearer := "Bearer " + stripped
	if strings.HasPrefix(strings.ToLower(stripped), bearerPrefix) {
		bare = strings.TrimSpace(stripped[len(bearerPrefix):])
		bearer = stripped
	}

	candidates := []AuthVariant{
		{Header: "Authorization", Value: bearer, Label: "Authorization: Bearer"},
		{Header: "Authorization", Value: bare, Label: "Authorization"},
		{Header: "X-Authorization", Value: bearer, Label: "X-Authorization: Bearer"},
		{Header: "X-Authorization", Value: bare, Label: "X-Authorization"},
	}

	type variantKey struct {
		header string
		value  string
	}
	seen := make(map[variantKey]struct{}, len(candidates))
	variants := make([]AuthVariant, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.Value == "" {
			continue
		}
		key := variantKey{header: strings.ToLower(candidate.Header), value: candidate.Value}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		variants = append(variants, candidate)
	}
	return variants
}

// sequence порядок перебора для очередного запроса: подтверждённый
// вариант первым, остальные в исходном порядке.
func (n *authNegotiator) sequence() []int {
	n.mu.Lock()
	defer n.mu.Unlock()

	order := make([]int, 0, len(n.variants))
	if n.active >= 0 {
		order = append(order, n.active)
	}
	for i := range n.variants {
		if i != n.active {
			order = append(order, i)
		}
	}
	return order
}

func (n *authNegotiator) variant(index int) AuthVariant {
	return n.variants[index]
}

func (n *authNegotiator) size() int {
	return len(n.variants)
}

// markSuccess закрепляет вариант, с которым запрос прошёл: следующие
// запросы начнут перебор с него.
func (n *authNegotiator) markSuccess(index int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = index
	n.lastLabel = n.variants[index].Label
}

// markRejected сбрасывает подтверждённый вариант после 401/403. Ранее
// работавший токен, у которого отозвали права, не должен удерживать
// свой вариант в голове очереди.
func (n *authNegotiator) markRejected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = -1
}

// activeLabel метка подтверждённого варианта для диагностики; после
// сброса возвращает метку последнего успеха.
func (n *authNegotiator) activeLabel() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.active >= 0 {
		return n.variants[n.active].Label
	}
	return n.lastLabel
}
