package allowed

func Background() {
	go func() {
		println("no scopes in this package")
	}()
}
