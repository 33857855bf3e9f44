package utils

func Contains[T comparable](arr []T, item T) bool {
	for _, i := range arr {
		if i == item {
			return true
		}
	}

	return false
}

// Filter returns the items of arr for which keep returns true.
func Filter[T any](arr []T, keep func(T) bool) []T {
	result := make([]T, 0, len(arr))

	for _, i := range arr {
		if keep(i) {
			result = append(result, i)
		}
	}

	return result
}
